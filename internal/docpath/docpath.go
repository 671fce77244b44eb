// Package docpath converts between slash-addressed flat documents and nested
// maps.
//
// Stage documents arrive from the backend as flat mappings keyed by
// slash-separated paths ("trustees/alice"). Unflatten builds the nested form
// the console works with and Flatten walks it back. A path can be both a leaf
// and the prefix of deeper keys; the leaf value is then kept on the container
// under ValueKey, a key no path segment can produce, and Keys never lists it.
package docpath

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Separator joins path segments.
const Separator = "/"

// ValueKey holds the scalar of a path that is also a namespace prefix.
const ValueKey = ""

// InvalidPathError is returned when a generic decoded map carries a key that
// is not a string and therefore cannot be part of a path.
type InvalidPathError struct {
	Path string
	Key  any
}

func (e *InvalidPathError) Error() string {
	return fmt.Sprintf("docpath: invalid key %v (%T) under %q", e.Key, e.Key, e.Path)
}

// Split returns the non-empty segments of path.
func Split(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, Separator) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Join joins segments with the separator, skipping empty ones.
func Join(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, Separator)
}

// Base returns the trailing segment of path.
func Base(path string) string {
	parts := Split(path)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// Parent returns path without its trailing segment, keeping a leading
// separator when path has one.
func Parent(path string) string {
	i := strings.LastIndex(path, Separator)
	if i < 0 {
		return ""
	}
	return path[:i]
}

// Flatten returns the path to value mapping of a nested document. Maps are
// walked depth-first; slices and scalars are leaves. An empty map is kept as
// a leaf so that Unflatten reproduces it.
func Flatten(doc map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	if err := flattenInto(out, "", doc); err != nil {
		return nil, err
	}
	return out, nil
}

func flattenInto(out map[string]any, prefix string, node map[string]any) error {
	if len(node) == 0 && prefix != "" {
		out[prefix] = map[string]any{}
		return nil
	}
	for key, value := range node {
		if key == ValueKey {
			out[prefix] = value
			continue
		}
		if err := flattenValue(out, joinPath(prefix, key), value); err != nil {
			return err
		}
	}
	return nil
}

func flattenValue(out map[string]any, path string, value any) error {
	switch v := value.(type) {
	case map[string]any:
		return flattenInto(out, path, v)
	case map[any]any:
		m, err := stringKeys(path, v)
		if err != nil {
			return err
		}
		return flattenInto(out, path, m)
	default:
		out[path] = value
		return nil
	}
}

func stringKeys(path string, m map[any]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		s, ok := k.(string)
		if !ok {
			return nil, &InvalidPathError{Path: path, Key: k}
		}
		out[s] = v
	}
	return out, nil
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + Separator + key
}

// Unflatten builds a nested document from a flat path mapping. Paths are
// applied shallowest first, so a scalar stored at a path that later turns out
// to be a prefix is moved under ValueKey of the new container instead of
// being lost. Values are deep-copied; the result never aliases flat.
func Unflatten(flat map[string]any) map[string]any {
	root := make(map[string]any)
	for _, key := range sortedPaths(flat) {
		parts := Split(key)
		if len(parts) == 0 {
			continue
		}
		target := root
		for _, part := range parts[:len(parts)-1] {
			target = namespace(target, part)
		}
		leaf := parts[len(parts)-1]
		value := Clone(flat[key])
		existing, ok := target[leaf].(map[string]any)
		if !ok {
			target[leaf] = value
			continue
		}
		if m, isMap := value.(map[string]any); isMap {
			for k, v := range m {
				existing[k] = v
			}
		} else {
			existing[ValueKey] = value
		}
	}
	return root
}

// namespace returns the container at target[part], creating it or converting
// a scalar found there into a container that keeps the scalar under ValueKey.
func namespace(target map[string]any, part string) map[string]any {
	current, present := target[part]
	if m, ok := current.(map[string]any); ok {
		return m
	}
	m := make(map[string]any)
	if present {
		m[ValueKey] = current
	}
	target[part] = m
	return m
}

func sortedPaths(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(len(Split(a)), len(Split(b))); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return keys
}

// HiddenValue returns the scalar kept on a container whose path is also a
// leaf.
func HiddenValue(node map[string]any) (any, bool) {
	v, ok := node[ValueKey]
	return v, ok
}

// Keys returns the visible keys of node in lexical order.
func Keys(node map[string]any) []string {
	keys := make([]string, 0, len(node))
	for k := range node {
		if k != ValueKey {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Get returns the value at path in a nested document.
func Get(doc map[string]any, path string) (any, bool) {
	var current any = doc
	for _, part := range Split(path) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set assigns value at path in a nested document, creating intermediate
// containers as Unflatten would.
func Set(doc map[string]any, path string, value any) {
	parts := Split(path)
	if len(parts) == 0 {
		return
	}
	target := doc
	for _, part := range parts[:len(parts)-1] {
		target = namespace(target, part)
	}
	target[parts[len(parts)-1]] = value
}

// PrefixPaths returns m with every key placed under root. The empty key maps
// to root itself.
func PrefixPaths[V any](root string, m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for key, v := range m {
		if key == "" {
			out[root] = v
			continue
		}
		out[root+Separator+key] = v
	}
	return out
}

// StripRoot removes the leading root segment of a prefixed path, returning
// the document-relative key ("/stage_A/trustees/x" -> "trustees/x").
func StripRoot(path string) string {
	parts := Split(path)
	if len(parts) <= 1 {
		return ""
	}
	return strings.Join(parts[1:], Separator)
}

// Clone deep-copies maps and slices of decoded JSON values.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}
