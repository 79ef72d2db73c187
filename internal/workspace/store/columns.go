package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// DraftColumns turns a draft row into insert columns: an empty id and zero
// timestamps are dropped so the store assigns them.
func DraftColumns(draft any) (map[string]any, error) {
	b, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("store: encode draft: %w", err)
	}

	var cols map[string]any
	if err := json.Unmarshal(b, &cols); err != nil {
		return nil, fmt.Errorf("store: encode draft: %w", err)
	}

	if id, ok := cols["id"].(string); ok && id == "" {
		delete(cols, "id")
	}
	for k, v := range cols {
		if s, ok := v.(string); ok && isZeroTime(s) {
			delete(cols, k)
		}
	}
	return cols, nil
}

// ApplyColumns returns row with cols merged over its JSON representation.
func ApplyColumns[T any](row T, cols map[string]any) (T, error) {
	var out T

	b, err := json.Marshal(row)
	if err != nil {
		return out, fmt.Errorf("store: encode row: %w", err)
	}
	var merged map[string]any
	if err := json.Unmarshal(b, &merged); err != nil {
		return out, fmt.Errorf("store: encode row: %w", err)
	}
	for k, v := range cols {
		merged[k] = v
	}

	b, err = json.Marshal(merged)
	if err != nil {
		return out, fmt.Errorf("store: encode row: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("store: apply columns: %w", err)
	}
	return out, nil
}

func isZeroTime(s string) bool {
	t, err := time.Parse(time.RFC3339Nano, s)
	return err == nil && t.IsZero()
}
