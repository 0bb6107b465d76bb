package serializer

import (
	"errors"
	"reflect"
	"testing"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() Serializer{
	"JSON": JSON,
	"GOB":  Gob,
	"YAML": YAML,
}

type profile struct {
	Name  string
	Age   int
	Tags  []string
	Admin bool
}

func roundTrip[T any](t *testing.T, s Serializer, in T) {
	t.Helper()
	raw, err := s.Encode(in)
	if err != nil {
		t.Fatalf("%s: encode %v: %v", s.Name(), in, err)
	}
	var out T
	if err := s.Decode(raw, &out); err != nil {
		t.Fatalf("%s: decode %q: %v", s.Name(), raw, err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("%s: round trip mismatch:\nOriginal: %#v\nResult: %#v", s.Name(), in, out)
	}
}

// TestSerializerRoundTrip tests that values survive encode followed by decode
func TestSerializerRoundTrip(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			roundTrip(t, s, 42)
			roundTrip(t, s, -7)
			roundTrip(t, s, 3.25)
			roundTrip(t, s, "hello world")
			roundTrip(t, s, true)
			roundTrip(t, s, []int{1, 2, 3})
			roundTrip(t, s, map[string]int{"a": 1, "b": 2})
			roundTrip(t, s, profile{Name: "ada", Age: 36, Tags: []string{"x", "y"}, Admin: true})
		})
	}
}

func TestSerializerMalformedInput(t *testing.T) {
	malformed := map[string]string{
		"JSON": "{not json",
		"GOB":  "%%% not base64 %%%",
		"YAML": "a: [1, 2",
	}
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			s := factory()
			var out map[string]int
			err := s.Decode(malformed[name], &out)
			if err == nil {
				t.Fatalf("expected decode error")
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("expected *DecodeError, got %T: %v", err, err)
			}
			if decErr.Codec != s.Name() {
				t.Fatalf("expected codec %q, got %q", s.Name(), decErr.Codec)
			}
		})
	}
}

func TestJSONIsReadableText(t *testing.T) {
	raw, err := JSON().Encode(map[string]any{"theme": "dark"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if raw != `{"theme":"dark"}` {
		t.Fatalf("unexpected json text %q", raw)
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "json", "JSON", "gob", "yaml", "yml"} {
		if _, err := ByName(name); err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
	}
	if s, _ := ByName(""); s.Name() != "json" {
		t.Fatalf("expected json default, got %s", s.Name())
	}
	if _, err := ByName("binary"); err == nil {
		t.Fatalf("expected error for unknown serializer")
	}
}
