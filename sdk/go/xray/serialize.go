package xray

import (
	"encoding/json"
	"fmt"
)

// jsonSafe returns v unchanged when it serializes to JSON, otherwise its
// string representation. Events are encoded long after the caller's values
// may have become invalid, so non-serializable values are pinned to a
// stable string at enqueue time.
func jsonSafe(v any) any {
	if v == nil {
		return nil
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return v
}

// jsonSafeMap applies jsonSafe to every value of m. Returns an empty map
// for nil input so records always carry a mapping, matching the wire
// contract.
func jsonSafeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = jsonSafe(v)
	}
	return out
}
