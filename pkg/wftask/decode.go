package wftask

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeList decodes a resolved []any source value (as returned by
// Context.Resolve) into a list of task definitions.
func DecodeList(raw any) ([]Definition, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("wftask: source value is not an array")
	}
	var out []Definition
	if err := mapstructure.Decode(items, &out); err != nil {
		return nil, fmt.Errorf("wftask: decode task list: %w", err)
	}
	for i := range out {
		if out[i].ID == "" {
			out[i].ID = fmt.Sprintf("task-%03d", i+1)
		}
	}
	return out, nil
}
