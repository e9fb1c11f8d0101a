// Package types holds the wire-level payment data model: payment permits,
// transfer authorizations, payment requirements/payloads, and the
// alias-preserving JSON codec that binds them to the wire.
package types

import "encoding/json"

// decodeAlias reads a field from raw JSON object keys, accepting either its
// canonical camelCase wire name or a snake_case alias on input (the wire
// format itself is always camelCase on output).
func decodeAlias[T any](raw map[string]json.RawMessage, camelKey, snakeKey string, into *T) error {
	if v, ok := raw[camelKey]; ok {
		return json.Unmarshal(v, into)
	}
	if v, ok := raw[snakeKey]; ok {
		return json.Unmarshal(v, into)
	}
	return nil
}

func rawObject(data []byte) (map[string]json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
