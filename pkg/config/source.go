package config

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Source answers section/key lookups against the loaded configuration,
// including sections Config does not model. Every getter returns its
// default when the key is missing or its value cannot be converted.
//
// Values are converted weakly, so "42", 42 and 42.0 all read as the int 42
// and "true", "1" and 1 all read as true.
type Source struct {
	v *viper.Viper
}

// NewSource wraps an already configured viper instance.
func NewSource(v *viper.Viper) *Source {
	return &Source{v: v}
}

// Has reports whether section.key is set.
func (s *Source) Has(section, key string) bool {
	return s.v.IsSet(path(section, key))
}

// GetInt returns section.key as an int, or def.
func (s *Source) GetInt(section, key string, def int) int {
	var out int
	if !s.decode(section, key, &out) {
		return def
	}
	return out
}

// GetBool returns section.key as a bool, or def.
func (s *Source) GetBool(section, key string, def bool) bool {
	var out bool
	if !s.decode(section, key, &out) {
		return def
	}
	return out
}

// GetString returns section.key as a string, or def.
func (s *Source) GetString(section, key string, def string) string {
	var out string
	if !s.decode(section, key, &out) {
		return def
	}
	return out
}

// GetDuration returns section.key as a duration, or def. Strings use
// time.ParseDuration syntax; bare numbers are nanoseconds.
func (s *Source) GetDuration(section, key string, def time.Duration) time.Duration {
	var out time.Duration
	if !s.decode(section, key, &out) {
		return def
	}
	return out
}

func (s *Source) decode(section, key string, out any) bool {
	raw := s.v.Get(path(section, key))
	if raw == nil {
		return false
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return false
	}
	return dec.Decode(raw) == nil
}

func path(section, key string) string {
	if section == "" {
		return key
	}
	return section + "." + key
}
