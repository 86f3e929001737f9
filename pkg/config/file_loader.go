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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/carverauto/fleetview/pkg/models"
)

var errEmptyConfigFile = errors.New("config file is empty")

// FileConfigLoader reads a JSON config file. With Strict set, fields the
// destination does not declare are rejected.
type FileConfigLoader struct {
	Strict bool
}

// Load implements ConfigLoader.
func (f *FileConfigLoader) Load(ctx context.Context, path string, dst interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("%w: config path is required", models.ErrConfiguration)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: config file '%s' not found", models.ErrConfiguration, path)
		}

		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: %s", errEmptyConfigFile, path)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if f.Strict {
		dec.DisallowUnknownFields()
	}

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	return nil
}
