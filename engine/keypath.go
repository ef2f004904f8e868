package engine

import (
	"strings"

	"github.com/fulldump/unikv/keys"
)

// evaluateKeyPath walks a dotted path ("address.city") into a decoded value.
// An empty path designates the value itself.
func evaluateKeyPath(value any, keyPath string) (any, bool) {
	if keyPath == "" {
		return value, true
	}

	current := value
	for _, part := range strings.Split(keyPath, ".") {
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

// extractKey evaluates keyPath and normalizes the result into a valid key.
func extractKey(value any, keyPath string) (any, bool) {
	raw, ok := evaluateKeyPath(value, keyPath)
	if !ok {
		return nil, false
	}
	key, err := keys.Normalize(raw)
	if err != nil {
		return nil, false
	}
	return key, true
}

// injectKey writes a generated key at keyPath, creating intermediate objects.
func injectKey(value any, keyPath string, key any) bool {
	parts := strings.Split(keyPath, ".")
	current, ok := value.(map[string]any)
	if !ok {
		return false
	}

	for _, part := range parts[:len(parts)-1] {
		next, exists := current[part]
		if !exists {
			child := map[string]any{}
			current[part] = child
			current = child
			continue
		}
		current, ok = next.(map[string]any)
		if !ok {
			return false
		}
	}

	current[parts[len(parts)-1]] = key
	return true
}

// canInjectKey reports whether injectKey would succeed without mutating value.
func canInjectKey(value any, keyPath string) bool {
	parts := strings.Split(keyPath, ".")
	current, ok := value.(map[string]any)
	if !ok {
		return false
	}
	for _, part := range parts[:len(parts)-1] {
		next, exists := current[part]
		if !exists {
			return true
		}
		current, ok = next.(map[string]any)
		if !ok {
			return false
		}
	}
	return true
}
