package remote

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// DecodeRows decodes a JSON array of rows into dest. dest may point to a
// slice, which receives every row, or to a single value, which receives the
// first row; an empty array then yields ErrNotFound.
func DecodeRows(data []byte, dest interface{}) error {
	if dest == nil {
		return nil
	}
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("remote: dest must be a non-nil pointer, got %T", dest)
	}
	if rv.Elem().Kind() == reflect.Slice {
		if len(data) == 0 || string(data) == "null" {
			rv.Elem().Set(reflect.MakeSlice(rv.Elem().Type(), 0, 0))
			return nil
		}
		return json.Unmarshal(data, dest)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		// Single-object responses (RPC returning a row) decode as-is.
		return json.Unmarshal(data, dest)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return json.Unmarshal(rows[0], dest)
}
