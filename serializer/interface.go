package serializer

import (
	"fmt"
	"strings"
)

// Serializer encodes values into the backend's string representation and back.
type Serializer interface {
	// Name identifies the codec. Two views sharing a key must use codecs with the same name.
	Name() string
	// Encode serializes v into a string.
	Encode(v any) (string, error)
	// Decode deserializes raw into the value pointed to by out.
	// It returns a *DecodeError if raw is not well-formed for the codec.
	Decode(raw string, out any) error
}

// DecodeError reports a persisted string that the codec could not parse.
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ByName returns the codec registered under name (json, gob, yaml).
func ByName(name string) (Serializer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON(), nil
	case "gob":
		return Gob(), nil
	case "yaml", "yml":
		return YAML(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", name)
	}
}
