package schema

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var ErrUnknownField = errors.New("schema: unknown field")

var reCustomField = regexp.MustCompile(`^customField\d+$`)

// IsCustomKey reports whether key is a synthetic custom field key.
func IsCustomKey(key string) bool { return reCustomField.MatchString(key) }

// Names maps field display names to API keys.
//
// The first key registered for a display name is authoritative for the
// lifetime of the Names value; later registrations of the same name are
// ignored. Built-in fields are registered under their own key as well, so a
// caller can look up "dueDate" the same way as "Target Project".
type Names struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewNames() *Names { return &Names{m: map[string]string{}} }

// register stores name→key if name is new. It reports whether the entry
// was added.
func (n *Names) register(name, key string) bool {
	name = strings.TrimSpace(name)
	if name == "" || key == "" {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.m == nil {
		n.m = map[string]string{}
	}
	if _, ok := n.m[name]; ok {
		return false
	}
	n.m[name] = key
	return true
}

// Key returns the API key registered for a display name.
func (n *Names) Key(name string) (string, error) {
	n.mu.RLock()
	key, ok := n.m[strings.TrimSpace(name)]
	n.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return key, nil
}

// Snapshot returns a sorted copy of the registered display names.
func (n *Names) Snapshot() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.m))
	for k := range n.m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
