package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Lookup reads one variable. os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// OSLookup reads the process environment.
func OSLookup() Lookup {
	return os.LookupEnv
}

// MapLookup reads from a fixed map, for tests and for job environments.
func MapLookup(m map[string]string) Lookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// Env reads typed values through a Lookup. The first parse failure is kept
// in Err so a batch of reads can be checked once.
type Env struct {
	lookup Lookup
	Err    error
}

// NewEnv wraps lookup. A nil lookup reads nothing.
func NewEnv(lookup Lookup) *Env {
	if lookup == nil {
		lookup = MapLookup(nil)
	}
	return &Env{lookup: lookup}
}

// Lookup returns the raw value and whether it was set.
func (e *Env) Lookup(key string) (string, bool) {
	return e.lookup(key)
}

// String returns the value of key, or def when unset.
func (e *Env) String(key, def string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return def
}

// List splits a comma separated value, trimming blanks.
func (e *Env) List(key string, def []string) []string {
	v, ok := e.lookup(key)
	if !ok {
		return def
	}
	return SplitList(v)
}

// Bool parses key with strconv.ParseBool.
func (e *Env) Bool(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		e.fail(fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return b
}

// Int parses key as a decimal integer.
func (e *Env) Int(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.fail(fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return i
}

// Duration parses key with time.ParseDuration.
func (e *Env) Duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.fail(fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return d
}

func (e *Env) fail(err error) {
	if e.Err == nil {
		e.Err = err
	}
}

// SplitList splits a comma separated string, dropping empty items.
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
