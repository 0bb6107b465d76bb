package serializer

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
)

// Gob returns a codec using Go's binary gob format, base64-encoded so the
// result can be stored as text.
func Gob() Serializer {
	return gobSerializer{}
}

type gobSerializer struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.Serializer)
// --------------------------------------------------------------------------

func (gobSerializer) Name() string { return "gob" }

func (gobSerializer) Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func (g gobSerializer) Decode(raw string, out any) error {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return &DecodeError{Codec: g.Name(), Err: err}
	}
	dec := gob.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(out); err != nil {
		return &DecodeError{Codec: g.Name(), Err: err}
	}
	return nil
}
