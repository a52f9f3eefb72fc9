package validation

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxRoomNameLength = 100
	MaxUserLimit      = 99
)

// ValidateRoomName checks a stored room name. The empty string is valid and
// means "use the default name".
func ValidateRoomName(name string) error {
	if !utf8.ValidString(name) {
		return fmt.Errorf("room name is not valid UTF-8")
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return fmt.Errorf("room name is too long (max %d characters)", MaxRoomNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("room name contains control characters")
		}
	}
	return nil
}

// ValidateUserLimit accepts 0 (unlimited) through MaxUserLimit.
func ValidateUserLimit(limit int) error {
	if limit < 0 || limit > MaxUserLimit {
		return fmt.Errorf("user limit must be between 0 and %d", MaxUserLimit)
	}
	return nil
}

// ParseSnowflake parses a platform id as sent in paths and JSON strings.
func ParseSnowflake(field, raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", field)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%s must be a positive integer id", field)
	}
	return id, nil
}

// SanitizeName trims surrounding whitespace and collapses inner runs of
// spaces.
func SanitizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}
