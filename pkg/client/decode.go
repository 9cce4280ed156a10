package client

import (
	"encoding/json"
	"fmt"
)

// Decode unmarshals unwrapped response data into T.
func Decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
