package board

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/pack"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/session"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/target"
)

// Strategy is one source of target definitions consulted before the
// registry lookup. Populate merges whatever the source knows about id into
// reg. A returned error aborts resolution.
type Strategy interface {
	Name() string
	Populate(reg *target.Registry, id string, opts *session.Options) error
}

// ExplicitPack loads the pack files or directories named by the "pack"
// option. Every definition found replaces any existing entry, whether or not
// it is the one requested.
type ExplicitPack struct{}

func (ExplicitPack) Name() string { return "explicit pack" }

func (ExplicitPack) Populate(reg *target.Registry, _ string, opts *session.Options) error {
	paths := opts.Strings(session.OptPack)
	if len(paths) == 0 {
		return nil
	}
	_, err := pack.PopulateFromPack(reg, paths...)
	return err
}

// ManagedPack consults the managed pack cache selected by the
// "pack_cache_dir" option when id is not yet registered. Cache failures are
// logged and never abort resolution.
type ManagedPack struct {
	log *zap.Logger

	mu    sync.Mutex
	packs map[string]*pack.ManagedPacks
}

// NewManagedPack returns a strategy reusing one cache per directory.
func NewManagedPack(log *zap.Logger) *ManagedPack {
	if log == nil {
		log = zap.NewNop()
	}
	return &ManagedPack{log: log, packs: make(map[string]*pack.ManagedPacks)}
}

func (m *ManagedPack) Name() string { return "managed pack" }

func (m *ManagedPack) cache(dir string) (*pack.ManagedPacks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.packs[dir]; ok {
		return p, nil
	}
	p, err := pack.NewManagedPacks(dir, 0, pack.WithLogger(m.log))
	if err != nil {
		return nil, err
	}
	m.packs[dir] = p
	return p, nil
}

func (m *ManagedPack) Populate(reg *target.Registry, id string, opts *session.Options) error {
	if reg.Contains(id) {
		return nil
	}
	packs, err := m.cache(opts.String(session.OptPackCacheDir, ""))
	if err == nil {
		_, err = packs.PopulateTarget(reg, id)
	}
	if err != nil {
		m.log.Warn("managed pack lookup failed", zap.String("target", id), zap.Error(err))
	}
	return nil
}

// Resolver turns a requested target type into a constructor.
type Resolver struct {
	registry   *target.Registry
	strategies []Strategy
	log        *zap.Logger
}

// NewResolver consults strategies in order before looking id up in reg. A nil
// registry is replaced by the built-in one; with no strategies the explicit
// and managed pack strategies are used.
func NewResolver(reg *target.Registry, log *zap.Logger, strategies ...Strategy) *Resolver {
	if reg == nil {
		reg = target.NewBuiltinRegistry()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if len(strategies) == 0 {
		strategies = []Strategy{ExplicitPack{}, NewManagedPack(log)}
	}
	return &Resolver{registry: reg, strategies: strategies, log: log}
}

func (r *Resolver) Registry() *target.Registry { return r.registry }

// Resolve returns the constructor and normalized name for requested. An empty
// request selects the generic cortex_m target.
func (r *Resolver) Resolve(requested string, opts *session.Options) (target.Constructor, string, error) {
	if opts == nil {
		opts = session.NewOptions(nil)
	}
	id := target.Normalize(requested)
	if id == "" {
		id = target.CortexM
	}
	if id == target.CortexM {
		r.log.Warn("Generic 'cortex_m' target type is selected; is this intentional? " +
			"You will be able to debug most devices, but not program flash. " +
			"To set the target type use the --target argument or 'target_override' option. " +
			Remediation + ".")
	}

	for _, s := range r.strategies {
		if err := s.Populate(r.registry, id, opts); err != nil {
			return nil, id, fmt.Errorf("board: %s: %w", s.Name(), err)
		}
	}

	ctor, err := r.registry.Lookup(id)
	if err != nil {
		return nil, id, &ResolutionError{TargetType: id}
	}
	return ctor, id, nil
}
