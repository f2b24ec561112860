package cache

import (
	"encoding/json"
	"fmt"
)

// Encode serializes a cache value for storage in any tier. Raw bytes pass
// through untouched; everything else (strings, mappings, sequences,
// structs) is JSON-encoded so structured values round-trip across
// processes sharing the distributed tier.
func Encode(value any) ([]byte, error) {
	if raw, ok := value.([]byte); ok {
		return raw, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache value: %w", err)
	}
	return data, nil
}

// Decode deserializes a stored cache value. A payload that fails
// structured deserialization is returned as its raw string representation
// rather than an error: opaque binary written by another client is a
// degraded read, not a failure.
func Decode(data []byte) any {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return string(data)
	}
	return value
}
