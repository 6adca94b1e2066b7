// Package config reads process settings from the environment.
//
// An Env collects every malformed or out-of-range value instead of stopping
// at the first one, so a misconfigured deployment reports all of its problems
// in a single startup error. Unset variables take their defaults silently.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FieldError describes one rejected setting.
type FieldError struct {
	Key    string
	Value  string
	Reason string
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("%s=%q: %s", e.Key, e.Value, e.Reason)
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Env reads typed values through a LookupFunc and accumulates errors.
// It is not safe for concurrent use.
type Env struct {
	lookup LookupFunc
	errs   []error
}

// NewEnv returns an Env backed by lookup.
func NewEnv(lookup LookupFunc) *Env {
	return &Env{lookup: lookup}
}

// FromOS returns an Env over the process environment.
func FromOS() *Env {
	return NewEnv(os.LookupEnv)
}

// Map returns an Env over a fixed set of values.
func Map(values map[string]string) *Env {
	return NewEnv(func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	})
}

func (e *Env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Report records err, which should be a *FieldError, against this Env.
// A nil err is ignored.
func (e *Env) Report(err error) {
	if err != nil {
		e.errs = append(e.errs, err)
	}
}

// Err returns every recorded problem joined, or nil.
func (e *Env) Err() error {
	return errors.Join(e.errs...)
}

// String returns the trimmed value of key, or def when unset.
func (e *Env) String(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

// Lower is String folded to lower case, for enumerations.
func (e *Env) Lower(key, def string) string {
	return strings.ToLower(e.String(key, def))
}

// Int parses key as a base-10 integer.
func (e *Env) Int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.Report(&FieldError{Key: key, Value: v, Reason: "not an integer"})
		return def
	}
	return n
}

// Bool parses key with strconv.ParseBool.
func (e *Env) Bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.Report(&FieldError{Key: key, Value: v, Reason: "not a boolean"})
		return def
	}
	return b
}

// Duration parses key with time.ParseDuration ("90s", "5m").
func (e *Env) Duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.Report(&FieldError{Key: key, Value: v, Reason: "not a duration"})
		return def
	}
	return d
}
