package cache

import (
	"strings"
)

// KeyPrefix namespaces every key this package writes.
const KeyPrefix = "apaas:meta"

// CacheKey identifies cached object metadata.
type CacheKey struct {
	// Namespace is the tenant namespace.
	Namespace string

	// Object is the object API name (e.g. "task").
	Object string

	// Field is the field API name; empty for whole-object metadata.
	Field string
}

// String generates a deterministic cache key string.
// Format: apaas:meta:namespace:object[:field]
//
// Example:
//
//	apaas:meta:app_x:task:owner
func (k CacheKey) String() string {
	parts := []string{KeyPrefix, k.Namespace, k.Object}
	if k.Field != "" {
		parts = append(parts, k.Field)
	}
	return strings.Join(parts, ":")
}

// ObjectKey returns the key of the whole-object entry, dropping Field.
func (k CacheKey) ObjectKey() CacheKey {
	return CacheKey{Namespace: k.Namespace, Object: k.Object}
}

// FieldPattern is a SCAN pattern matching every field entry of the key's
// object and nothing else. Glob metacharacters in the names are escaped.
func (k CacheKey) FieldPattern() string {
	return globEscaper.Replace(k.ObjectKey().String()) + ":*"
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)
