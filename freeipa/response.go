package freeipa

import (
	"encoding/json"
	"fmt"
)

// Record is one directory entry as returned by a find command. FreeIPA
// returns every attribute multi-valued; scalars arrive as one-element
// lists and are normalized by Strings.
type Record map[string]any

// Strings returns the attribute's values as a string slice. Missing
// attributes yield nil. Scalar values are wrapped into a one-element
// slice so callers can treat everything uniformly.
func (r Record) Strings(attr string) []string {
	v, ok := r[attr]
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case string:
		return []string{val}
	case bool:
		if val {
			return []string{"TRUE"}
		}
		return []string{"FALSE"}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case []string:
		return val
	default:
		return []string{fmt.Sprintf("%v", val)}
	}
}

// First returns the attribute's first value, or "" when absent.
func (r Record) First(attr string) string {
	values := r.Strings(attr)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// FailedItem is one (item, message) pair from the server's "failed"
// substructure.
type FailedItem struct {
	Item    string
	Message string
}

// UnmarshalJSON accepts the wire form, a two-element array.
func (f *FailedItem) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("failed item is not a string pair: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("failed item has %d elements, want 2", len(pair))
	}
	f.Item = pair[0]
	f.Message = pair[1]
	return nil
}

// Response is the structured result of one command invocation.
//
// The server may include a "failed" substructure whose inner maps are all
// empty even on success; Failures treats that shape as success and only
// surfaces non-empty item lists.
type Response struct {
	Summary string                             `json:"summary"`
	Result  []Record                           `json:"-"`
	Count   int                                `json:"count"`
	Failed  map[string]map[string][]FailedItem `json:"failed"`

	// RawResult carries the untyped "result" member; find commands fill
	// Result from it, singular commands leave it as the mutated entry.
	RawResult json.RawMessage `json:"result"`
}

// Failures flattens the "failed" substructure into the item/message pairs
// that actually carry content. An empty return means the call succeeded.
func (r *Response) Failures() []FailedItem {
	var items []FailedItem
	for _, byKind := range r.Failed {
		for _, list := range byKind {
			items = append(items, list...)
		}
	}
	return items
}

// decodeResult fills Result for list-shaped responses. Singular results
// (a bare object) are left in RawResult only.
func (r *Response) decodeResult() error {
	if len(r.RawResult) == 0 {
		return nil
	}
	var records []Record
	if err := json.Unmarshal(r.RawResult, &records); err == nil {
		r.Result = records
	}
	return nil
}
