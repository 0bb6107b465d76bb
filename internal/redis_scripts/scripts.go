package redis_scripts

import (
	"crypto/sha1" //nolint:gosec // used for deterministic script hash
	"encoding/hex"
)

// Both scripts return {present, old} so the caller can publish the previous value.
const (
	SetItem = `local old = redis.call("get", KEYS[1])
redis.call("set", KEYS[1], ARGV[1])
if old then return {1, old} else return {0, ""} end`
	RemoveItem = `local old = redis.call("get", KEYS[1])
if not old then return {0, ""} end
redis.call("del", KEYS[1])
return {1, old}`
)

// Script wraps a Lua source and precomputed sha.
type Script struct {
	Source string
	SHA    string
}

// NewScript builds a Script with deterministic sha1.
func NewScript(src string) Script {
	sum := sha1.Sum([]byte(src))
	return Script{
		Source: src,
		SHA:    hex.EncodeToString(sum[:]),
	}
}
