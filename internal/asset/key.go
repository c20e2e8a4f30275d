// Package asset declares units of work with hierarchical keys and
// dependencies, validates the resulting graph and materializes it.
package asset

import (
	"strings"

	"airlift-demo/internal/domain"
)

const keySeparator = "/"

// Key is a hierarchical asset identifier, e.g. raw_data/raw_customers.
// Keys are comparable and usable as map keys.
type Key struct {
	path string
}

// NewKey builds a key from its path components.
func NewKey(parts ...string) Key {
	return Key{path: strings.Join(parts, keySeparator)}
}

// ParseKey parses the slash-separated form produced by String.
func ParseKey(s string) (Key, error) {
	s = strings.Trim(s, keySeparator)
	if s == "" {
		return Key{}, domain.ErrValidation("asset key is required")
	}
	for _, p := range strings.Split(s, keySeparator) {
		if p == "" {
			return Key{}, domain.ErrValidation("asset key %q has an empty component", s)
		}
	}
	return Key{path: s}, nil
}

// MustParseKey is ParseKey for literals.
func MustParseKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Parts returns the path components.
func (k Key) Parts() []string {
	if k.path == "" {
		return nil
	}
	return strings.Split(k.path, keySeparator)
}

// String returns the slash-separated form.
func (k Key) String() string { return k.path }

// IsZero reports whether the key is empty.
func (k Key) IsZero() bool { return k.path == "" }

// Keys parses each string form into a key.
func Keys(ss ...string) ([]Key, error) {
	out := make([]Key, 0, len(ss))
	for _, s := range ss {
		k, err := ParseKey(s)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func keyStrings(keys []Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
