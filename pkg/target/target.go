// Package target defines debug targets and the registry that maps target
// type names to their constructors.
package target

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/session"
)

// Target is the software representation of a device family a session can
// connect to.
type Target interface {
	// Init brings up the connection to the device. It may block on probe I/O.
	Init() error
	// Disconnect ends the connection. With resume set the device is left
	// running normally.
	Disconnect(resume bool) error
}

// Constructor builds a Target for a session.
type Constructor func(s *session.Session) (Target, error)

// ErrNotFound is returned when a target type has no registry entry.
var ErrNotFound = errors.New("target: type not found")

// Normalize lower-cases and trims a target type name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Registry maps normalized target type names to constructors. It is safe for
// concurrent use; pack loaders may populate it while boards look it up.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	ctor Constructor
	def  *Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// NewBuiltinRegistry returns a registry holding the built-in targets.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	r.Register(CortexM, NewCortexM)
	return r
}

// Register installs ctor under name, replacing any previous entry.
func (r *Registry) Register(name string, ctor Constructor) {
	r.put(name, entry{ctor: ctor})
}

// RegisterDefinition installs a pack-provided definition, replacing any
// previous entry with the same name.
func (r *Registry) RegisterDefinition(def Definition) {
	d := def
	r.put(def.Name, entry{ctor: d.Constructor(), def: &d})
}

func (r *Registry) put(name string, e entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[Normalize(name)] = e
}

// Contains reports whether name has an entry.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[Normalize(name)]
	return ok
}

// Lookup returns the constructor for name or an error wrapping ErrNotFound.
func (r *Registry) Lookup(name string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[Normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, Normalize(name))
	}
	return e.ctor, nil
}

// Definition returns the pack definition behind name, if it came from one.
func (r *Registry) Definition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[Normalize(name)]
	if !ok || e.def == nil {
		return Definition{}, false
	}
	return *e.def, true
}

// Construct looks name up and invokes its constructor. A missing entry is
// reported with ErrNotFound; constructor failures are returned unchanged.
func (r *Registry) Construct(name string, s *session.Session) (Target, error) {
	ctor, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return ctor(s)
}

// Names lists registered target types in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
