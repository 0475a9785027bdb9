// Package dependencies tracks dynamic objects: the per-worker variable
// table, the process-wide creation registry and the garbage collector
// that deletes what the run created.
package dependencies

import (
	"sort"
	"strings"
	"sync"

	"github.com/vikasavnish/seqfuzz/pkg/primitives"
)

// Unset is returned for variables that have no value.
const Unset = "None"

// VariableTable holds the latest value of each dynamic variable for one
// render worker. It is not safe for concurrent use.
type VariableTable struct {
	values   map[string]string
	registry *Registry
}

// NewVariableTable creates an empty table. Values set on it are also
// recorded in reg when reg is non-nil.
func NewVariableTable(reg *Registry) *VariableTable {
	return &VariableTable{values: make(map[string]string), registry: reg}
}

// Set stores value for name.
func (t *VariableTable) Set(name, value string) {
	t.values[name] = value
	if t.registry != nil {
		t.registry.Add(name, value)
	}
}

// Get returns the value of name, or Unset.
func (t *VariableTable) Get(name string) string {
	if v, ok := t.values[name]; ok {
		return v
	}
	return Unset
}

// Reset clears every value.
func (t *VariableTable) Reset() {
	t.values = make(map[string]string)
}

// Snapshot returns a copy of the current values.
func (t *VariableTable) Snapshot() map[string]string {
	out := make(map[string]string, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

// Restore replaces the table's values with snap without touching the
// registry.
func (t *VariableTable) Restore(snap map[string]string) {
	t.values = make(map[string]string, len(snap))
	for k, v := range snap {
		t.values[k] = v
	}
}

// Resolve substitutes every RDELIM placeholder in data with the
// variable's current value.
func (t *VariableTable) Resolve(data string) string {
	if !strings.Contains(data, primitives.RDELIM) {
		return data
	}
	parts := strings.Split(data, primitives.RDELIM)
	var sb strings.Builder
	for i, p := range parts {
		if i%2 == 1 && i < len(parts)-1 {
			sb.WriteString(t.Get(p))
			continue
		}
		if i%2 == 1 {
			// unbalanced trailing delimiter
			sb.WriteString(primitives.RDELIM)
		}
		sb.WriteString(p)
	}
	return sb.String()
}

// Registry records every dynamic object created during the run.
type Registry struct {
	mu      sync.Mutex
	objects map[string][]string
	saved   map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		objects: make(map[string][]string),
		saved:   make(map[string][]string),
	}
}

// Add appends value to the creation list of objType.
func (r *Registry) Add(objType, value string) {
	r.mu.Lock()
	r.objects[objType] = append(r.objects[objType], value)
	r.mu.Unlock()
}

// Save moves value into the saved set: it is kept alive until the run
// finishes.
func (r *Registry) Save(objType, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	objs := r.objects[objType]
	for i, v := range objs {
		if v == value {
			r.objects[objType] = append(objs[:i:i], objs[i+1:]...)
			break
		}
	}
	r.saved[objType] = append(r.saved[objType], value)
}

// Count returns the number of live, unsaved objects of objType.
func (r *Registry) Count(objType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects[objType])
}

// Types returns every object type seen, sorted.
func (r *Registry) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.objects))
	for k := range r.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Evict removes and returns, per type, the oldest objects beyond
// cacheSize.
func (r *Registry) Evict(cacheSize int) map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string)
	for objType, objs := range r.objects {
		if over := len(objs) - cacheSize; over > 0 {
			out[objType] = append([]string(nil), objs[:over]...)
			r.objects[objType] = append([]string(nil), objs[over:]...)
		}
	}
	return out
}

// DrainAll removes and returns every live and saved object.
func (r *Registry) DrainAll() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string)
	for objType, objs := range r.objects {
		out[objType] = append(out[objType], objs...)
	}
	for objType, objs := range r.saved {
		out[objType] = append(out[objType], objs...)
	}
	r.objects = make(map[string][]string)
	r.saved = make(map[string][]string)
	return out
}
