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

// Package identity classifies raw device identifiers and resolves them to a
// single canonical device.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/carverauto/fleetview/pkg/models"
)

const (
	// MaxIdentifierLength bounds a raw identifier after trimming.
	MaxIdentifierLength = 128
	maxAssetTagLength   = 12
)

var (
	errEmptyIdentifier   = errors.New("identifier is required")
	errIdentifierTooLong = errors.New("identifier is too long")
	errIllegalCharacter  = errors.New("identifier contains an illegal character")

	uuidPattern     = regexp.MustCompile(`^[0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12}$`)
	assetTagPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{4,}$`)
)

// Classify reports the identifier kind of raw. Anything that is neither a
// UUID nor an asset tag is treated as a serial number.
func Classify(raw string) models.IdentifierKind {
	raw = strings.TrimSpace(raw)

	switch {
	case uuidPattern.MatchString(raw):
		return models.IdentifierUUID
	case len(raw) <= maxAssetTagLength && assetTagPattern.MatchString(raw):
		return models.IdentifierAssetTag
	default:
		return models.IdentifierSerial
	}
}

// Validate rejects identifiers that cannot be sent to the backend.
func Validate(raw string) error {
	trimmed := strings.TrimSpace(raw)

	switch {
	case trimmed == "":
		return fmt.Errorf("%w: %w", models.ErrValidation, errEmptyIdentifier)
	case len(trimmed) > MaxIdentifierLength:
		return fmt.Errorf("%w: %w (max %d)", models.ErrValidation, errIdentifierTooLong, MaxIdentifierLength)
	}

	for _, r := range trimmed {
		if unicode.IsSpace(r) || r == '/' || r == '?' || r == '#' {
			return fmt.Errorf("%w: %w %q", models.ErrValidation, errIllegalCharacter, r)
		}
	}

	return nil
}

// Parse validates and classifies raw in one step.
func Parse(raw string) (models.DeviceIdentifier, error) {
	if err := Validate(raw); err != nil {
		return models.DeviceIdentifier{}, err
	}

	trimmed := strings.TrimSpace(raw)

	return models.DeviceIdentifier{Raw: trimmed, Kind: Classify(trimmed)}, nil
}
