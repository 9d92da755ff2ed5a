package core

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches the signature of os.LookupEnv so tests can supply
// their own environment.
type LookupFunc func(key string) (string, bool)

// envSource reads typed values from an environment lookup.
// Unset, empty or unparseable values leave the current value untouched.
type envSource struct {
	lookup LookupFunc
}

func newEnvSource(lookup LookupFunc) envSource {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return envSource{lookup: lookup}
}

func (e envSource) value(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e envSource) setString(key string, dst *string) {
	if v, ok := e.value(key); ok {
		*dst = v
	}
}

func (e envSource) setInt(key string, dst *int) {
	if v, ok := e.value(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func (e envSource) setFloat(key string, dst *float64) {
	if v, ok := e.value(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// setBool accepts case-insensitive true/1/yes/on and false/0/no/off.
func (e envSource) setBool(key string, dst *bool) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	}
}

// setDuration accepts Go duration strings ("90s", "2m") or a bare number of seconds.
func (e envSource) setDuration(key string, dst *time.Duration) {
	v, ok := e.value(key)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
	}
}
