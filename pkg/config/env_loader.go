/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/carverauto/fleetview/pkg/logger"
	"github.com/carverauto/fleetview/pkg/models"
)

var (
	// ErrDstMustBeNonNilPointer indicates that the destination must be a non-nil pointer.
	ErrDstMustBeNonNilPointer = errors.New("dst must be a non-nil pointer")
	// ErrDstMustBePointerToStruct indicates that the destination must be a pointer to a struct.
	ErrDstMustBePointerToStruct = errors.New("dst must be a pointer to a struct")

	errUnsupportedEnvField = errors.New("unsupported field type")
)

//nolint:gochecknoglobals // reflect types compared per field
var (
	durationType       = reflect.TypeOf(time.Duration(0))
	modelsDurationType = reflect.TypeOf(models.Duration(0))
	loggerDurationType = reflect.TypeOf(logger.Duration(0))
)

// EnvConfigLoader loads configuration from environment variables.
// Nested struct fields use underscore separation, so with the FLEETVIEW_
// prefix FLEETVIEW_BACKEND_BASE_URL maps to config.Backend.BaseURL.
// <PREFIX>CONFIG_JSON, when set, replaces per-field lookup entirely.
type EnvConfigLoader struct {
	logger  logger.Logger
	prefix  string
	lookup  func(string) (string, bool)
	environ func() []string
}

// NewEnvConfigLoader creates a new environment variable config loader.
func NewEnvConfigLoader(log logger.Logger, prefix string) *EnvConfigLoader {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &EnvConfigLoader{
		logger:  log,
		prefix:  prefix,
		lookup:  os.LookupEnv,
		environ: os.Environ,
	}
}

// Load implements ConfigLoader. Every malformed variable is reported, not
// only the first.
func (e *EnvConfigLoader) Load(ctx context.Context, _ string, dst interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if raw, ok := e.lookup(e.prefix + "CONFIG_JSON"); ok && strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return fmt.Errorf("failed to unmarshal %sCONFIG_JSON: %w", e.prefix, err)
		}

		e.logger.Info().Msg("Loaded configuration from CONFIG_JSON environment variable")

		return nil
	}

	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return ErrDstMustBeNonNilPointer
	}

	if v.Elem().Kind() != reflect.Struct {
		return ErrDstMustBePointerToStruct
	}

	var errs []error

	applied := e.walk(v.Elem(), e.prefix, &errs)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", models.ErrConfiguration, errors.Join(errs...))
	}

	e.logger.Info().Int("variables", applied).Msg("Loaded configuration from environment variables")

	return nil
}

// walk fills the exported, json-tagged fields of v and returns how many
// variables it applied.
func (e *EnvConfigLoader) walk(v reflect.Value, prefix string, errs *[]error) int {
	applied := 0
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}

		envName := prefix + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))

		if isStructLike(field.Type()) {
			applied += e.walkNested(field, envName+"_", errs)
			continue
		}

		raw, ok := e.lookup(envName)
		if !ok || raw == "" {
			continue
		}

		if err := assign(field, raw); err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", envName, err))
			continue
		}

		e.logger.Debug().Str("env", envName).Msg("Loaded value from environment variable")

		applied++
	}

	return applied
}

// walkNested descends into a struct field. Optional (pointer) sections are
// only allocated when some variable addresses them.
func (e *EnvConfigLoader) walkNested(field reflect.Value, prefix string, errs *[]error) int {
	if field.Kind() != reflect.Ptr {
		return e.walk(field, prefix, errs)
	}

	if field.IsNil() {
		if !e.hasPrefix(prefix) {
			return 0
		}

		field.Set(reflect.New(field.Type().Elem()))
	}

	return e.walk(field.Elem(), prefix, errs)
}

func (e *EnvConfigLoader) hasPrefix(prefix string) bool {
	for _, kv := range e.environ() {
		if strings.HasPrefix(kv, prefix) {
			return true
		}
	}

	return false
}

func isStructLike(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	return t.Kind() == reflect.Struct && t != reflect.TypeOf(time.Time{})
}

// assign parses raw into field. Durations accept "10s" and "7d" forms,
// string slices are comma separated and other composites are JSON.
func assign(field reflect.Value, raw string) error {
	switch field.Type() {
	case durationType, modelsDurationType, loggerDurationType:
		d, err := models.ParseDurationWithDays(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}

		field.SetInt(int64(d))

		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}

		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}

		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer: %w", err)
		}

		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float: %w", err)
		}

		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String && !strings.HasPrefix(strings.TrimSpace(raw), "[") {
			parts := strings.Split(raw, ",")
			out := reflect.MakeSlice(field.Type(), 0, len(parts))

			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = reflect.Append(out, reflect.ValueOf(p).Convert(field.Type().Elem()))
				}
			}

			field.Set(out)

			return nil
		}

		return unmarshalInto(field, raw)
	case reflect.Map, reflect.Array, reflect.Interface:
		return unmarshalInto(field, raw)
	case reflect.Ptr:
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}

		return assign(field.Elem(), raw)
	default:
		return fmt.Errorf("%w: %s", errUnsupportedEnvField, field.Kind())
	}

	return nil
}

func unmarshalInto(field reflect.Value, raw string) error {
	if err := json.Unmarshal([]byte(raw), field.Addr().Interface()); err != nil {
		return fmt.Errorf("invalid JSON value: %w", err)
	}

	return nil
}
