package serializer

import "gopkg.in/yaml.v3"

// YAML returns a codec storing values as YAML documents.
func YAML() Serializer {
	return yamlSerializer{}
}

type yamlSerializer struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.Serializer)
// --------------------------------------------------------------------------

func (yamlSerializer) Name() string { return "yaml" }

func (yamlSerializer) Encode(v any) (string, error) {
	b, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (y yamlSerializer) Decode(raw string, out any) error {
	if err := yaml.Unmarshal([]byte(raw), out); err != nil {
		return &DecodeError{Codec: y.Name(), Err: err}
	}
	return nil
}
