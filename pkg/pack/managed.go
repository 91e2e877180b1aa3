package pack

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/target"
)

// IndexFile is the name of the managed cache index inside the cache
// directory.
const IndexFile = "index.toml"

// DefaultCacheSize bounds the number of parsed pack files kept in memory.
const DefaultCacheSize = 64

// IndexEntry maps a target type to the pack file describing it.
//
//	[[target]]
//	name = "stm32f303"
//	file = "st/STM32F303.bsd"
//	entity = "STM32F303_F334_LQFP64"
type IndexEntry struct {
	Name   string `toml:"name"`
	File   string `toml:"file"`
	Entity string `toml:"entity"`
}

type index struct {
	Targets []IndexEntry `toml:"target"`
}

// DefaultCacheDir returns the per-user managed pack directory.
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("pack: %w", err)
	}
	return filepath.Join(dir, "opentraceboard", "packs"), nil
}

// ManagedPacks is a directory of pack files with an index naming which target
// types each file provides. It is safe for concurrent use.
type ManagedPacks struct {
	dir    string
	log    *zap.Logger
	parser *Parser
	cache  *lru.Cache[string, []target.Definition]

	mu      sync.Mutex
	entries map[string][]IndexEntry
}

// ManagedOption configures ManagedPacks.
type ManagedOption func(*ManagedPacks)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) ManagedOption {
	return func(m *ManagedPacks) {
		if l != nil {
			m.log = l
		}
	}
}

// NewManagedPacks opens the cache rooted at dir. An empty dir selects
// DefaultCacheDir. The directory need not exist.
func NewManagedPacks(dir string, cacheSize int, opts ...ManagedOption) (*ManagedPacks, error) {
	if dir == "" {
		d, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []target.Definition](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}
	parser, err := NewParser()
	if err != nil {
		return nil, err
	}
	m := &ManagedPacks{
		dir:    dir,
		log:    zap.NewNop(),
		parser: parser,
		cache:  cache,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("pack").With(zap.String("cache", dir))
	return m, nil
}

// loadIndex reads index.toml once. A missing directory or index yields an
// empty index.
func (m *ManagedPacks) loadIndex() (map[string][]IndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries != nil {
		return m.entries, nil
	}

	var idx index
	path := filepath.Join(m.dir, IndexFile)
	md, err := toml.DecodeFile(path, &idx)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		m.log.Debug("no managed pack index")
		m.entries = map[string][]IndexEntry{}
		return m.entries, nil
	case err != nil:
		return nil, fmt.Errorf("pack: read %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		m.log.Warn("unknown keys in pack index", zap.Stringers("keys", undec))
	}

	entries := make(map[string][]IndexEntry, len(idx.Targets))
	for _, e := range idx.Targets {
		if e.Name == "" || e.File == "" {
			return nil, fmt.Errorf("pack: %s: entry needs name and file", path)
		}
		name := target.Normalize(e.Name)
		entries[name] = append(entries[name], e)
	}
	m.entries = entries
	return entries, nil
}

// Targets lists the target types named by the index.
func (m *ManagedPacks) Targets() ([]string, error) {
	entries, err := m.loadIndex()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Invalidate drops the index and every parsed pack.
func (m *ManagedPacks) Invalidate() {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
	m.cache.Purge()
}

func (m *ManagedPacks) definitions(file string) ([]target.Definition, error) {
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.dir, file)
	}
	if defs, ok := m.cache.Get(path); ok {
		return defs, nil
	}
	defs, err := m.parser.ParseFile(path)
	if err != nil {
		return nil, err
	}
	m.cache.Add(path, defs)
	return defs, nil
}

// PopulateTarget merges the definitions of every pack file the index lists
// for id into reg. It reports whether id was found. When the index name
// differs from the entity name the definition is registered under both.
func (m *ManagedPacks) PopulateTarget(reg *target.Registry, id string) (bool, error) {
	id = target.Normalize(id)
	entries, err := m.loadIndex()
	if err != nil {
		return false, err
	}
	found := false
	for _, e := range entries[id] {
		defs, err := m.definitions(e.File)
		if err != nil {
			return found, err
		}
		var alias *target.Definition
		for i, def := range defs {
			reg.RegisterDefinition(def)
			if def.Name == id {
				found = true
			}
			if alias == nil && (e.Entity == "" || target.Normalize(e.Entity) == def.Name) {
				alias = &defs[i]
			}
		}
		if !found && alias != nil {
			d := *alias
			d.Name = id
			reg.RegisterDefinition(d)
			found = true
		}
		m.log.Debug("loaded managed pack",
			zap.String("target", id),
			zap.String("file", e.File),
			zap.Int("definitions", len(defs)))
	}
	return found, nil
}
