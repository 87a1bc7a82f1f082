package curriculum

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes the tree as its nested item list.
func (t Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Items())
}

// UnmarshalJSON decodes a nested item list, validating ids and enums.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	parsed, err := New(items)
	if err != nil {
		return err
	}
	*t = *parsed
	return nil
}

// Value stores the tree in a jsonb column.
func (t Tree) Value() (driver.Value, error) {
	return json.Marshal(t.Items())
}

// Scan reads the tree from a jsonb column.
func (t *Tree) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = Tree{index: map[string]int{}}
		return nil
	case []byte:
		return t.UnmarshalJSON(v)
	case string:
		return t.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("curriculum: cannot scan %T into Tree", src)
	}
}
