package cache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies a cached query: a resource name followed by its parameters,
// e.g. ["jobs", "<workspace>", "tags=a,b"]. A shorter key is a prefix of every
// longer key that starts with the same parts, which is how mutations
// invalidate whole families of queries.
type Key struct {
	parts []string
}

func NewKey(resource string, params ...interface{}) Key {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, resource)
	for _, p := range params {
		parts = append(parts, fmt.Sprint(p))
	}
	return Key{parts: parts}
}

// ParseKey reverses String.
func ParseKey(s string) (Key, error) {
	var parts []string
	if err := json.Unmarshal([]byte(s), &parts); err != nil {
		return Key{}, fmt.Errorf("parse cache key %q: %w", s, err)
	}
	if len(parts) == 0 {
		return Key{}, fmt.Errorf("parse cache key %q: empty", s)
	}
	return Key{parts: parts}, nil
}

func (k Key) Resource() string {
	if len(k.parts) == 0 {
		return ""
	}
	return k.parts[0]
}

func (k Key) Parts() []string {
	return append([]string(nil), k.parts...)
}

func (k Key) IsZero() bool { return len(k.parts) == 0 }

// String is the canonical JSON array form. Because every part is quoted, the
// string form of a prefix without its closing bracket is a byte prefix of the
// string form of every key it matches.
func (k Key) String() string {
	b, _ := json.Marshal(k.parts)
	return string(b)
}

// HasPrefix reports whether prefix matches k part by part.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix.parts) > len(k.parts) {
		return false
	}
	for i, p := range prefix.parts {
		if k.parts[i] != p {
			return false
		}
	}
	return true
}

func (k Key) Equal(other Key) bool {
	return len(k.parts) == len(other.parts) && k.HasPrefix(other)
}

func (k Key) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.parts)
}

func (k *Key) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	k.parts = parts
	return nil
}

func stringPrefix(prefix Key) string {
	return strings.TrimSuffix(prefix.String(), "]")
}
