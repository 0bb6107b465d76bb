package serializer

import "encoding/json"

// JSON returns the default codec, using json encoding.
func JSON() Serializer {
	return jsonSerializer{}
}

type jsonSerializer struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.Serializer)
// --------------------------------------------------------------------------

func (jsonSerializer) Name() string { return "json" }

func (jsonSerializer) Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (j jsonSerializer) Decode(raw string, out any) error {
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &DecodeError{Codec: j.Name(), Err: err}
	}
	return nil
}
