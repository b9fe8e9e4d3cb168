package config

import "gopkg.in/yaml.v3"

// Secret is a string type that redacts itself whenever it is formatted,
// logged, or marshaled — used for exchange API credentials so a config
// dump or structured log field never leaks them.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString backs %#v formatting, which %+v-style debug dumps fall through to.
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// MarshalJSON ensures secrets are redacted when marshaled to JSON.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// MarshalYAML ensures secrets are redacted when the config is dumped back
// to YAML for diagnostics.
func (s Secret) MarshalYAML() (interface{}, error) {
	return "[REDACTED]", nil
}

var _ yaml.Marshaler = Secret("")
