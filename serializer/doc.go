// Package serializer converts values to and from the string form kept by a
// persistent backend.
//
// Every codec implements Serializer. Codecs are stateless and safe for
// concurrent use; a decoded value is observably equal to the encoded one for
// every value the codec supports.
//
// Key Components:
//
//   - jsonSerializer: the default codec. Numbers, strings, booleans, plain
//     structures, maps and slices round-trip as JSON text, which keeps entries
//     readable by foreign writers.
//
//   - gobSerializer: Go's gob encoding wrapped in base64 so it fits a text
//     store. Only useful when every context sharing a key is written in Go.
//
//   - yamlSerializer: YAML text via gopkg.in/yaml.v3, handy for entries that
//     are edited by hand.
//
// Malformed input yields a *DecodeError. Callers reading persisted entries
// are expected to treat it as "no value" rather than a fatal error.
package serializer
