package config

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CheckRange rejects n outside [lo, hi].
func CheckRange(key string, n, lo, hi int) error {
	if n < lo || n > hi {
		return &FieldError{Key: key, Value: strconv.Itoa(n),
			Reason: fmt.Sprintf("must be between %d and %d", lo, hi)}
	}
	return nil
}

// CheckOneOf rejects a value outside allowed.
func CheckOneOf(key, value string, allowed ...string) error {
	if !slices.Contains(allowed, value) {
		return &FieldError{Key: key, Value: value,
			Reason: "must be one of " + strings.Join(allowed, ", ")}
	}
	return nil
}

// CheckPositive rejects a zero or negative duration.
func CheckPositive(key string, d time.Duration) error {
	if d <= 0 {
		return &FieldError{Key: key, Value: d.String(), Reason: "must be positive"}
	}
	return nil
}

// CheckSchedule rejects anything cron.ParseStandard does not accept,
// including @every and @hourly descriptors.
func CheckSchedule(key, spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return &FieldError{Key: key, Value: spec, Reason: err.Error()}
	}
	return nil
}

// CheckRequired rejects an empty value.
func CheckRequired(key, value string) error {
	if value == "" {
		return &FieldError{Key: key, Reason: "required"}
	}
	return nil
}
