// Package board binds a session to one target: it resolves the requested
// target type, constructs the target and runs its connect and disconnect
// lifecycle, notifying an optional delegate.
package board

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/session"
	"github.com/OpenTraceLab/OpenTraceBoard/pkg/target"
)

// Name is the board name reported for every generic board.
const Name = "generic"

// Board owns the target built for a session. It is not safe for concurrent
// use.
type Board struct {
	session    *session.Session
	target     target.Target
	targetType string
	testBinary string
	delegate   any
	log        *zap.Logger

	state State
}

type config struct {
	registry *target.Registry
	resolver *Resolver
	log      *zap.Logger
}

// Option configures New.
type Option func(*config)

// WithRegistry resolves against reg instead of the built-in registry.
func WithRegistry(reg *target.Registry) Option {
	return func(c *config) { c.registry = reg }
}

// WithResolver replaces the resolver entirely. It takes precedence over
// WithRegistry.
func WithResolver(r *Resolver) Option {
	return func(c *config) { c.resolver = r }
}

// WithLogger overrides the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.log = l }
}

// New resolves targetType, constructs the target with s and returns the
// board. An empty targetType selects the generic cortex_m target.
func New(s *session.Session, targetType string, opts ...Option) (*Board, error) {
	if s == nil {
		return nil, fmt.Errorf("board: nil session")
	}
	var c config
	for _, opt := range opts {
		opt(&c)
	}
	if c.log == nil {
		c.log = s.Logger()
	}
	log := c.log.Named("board")
	if c.resolver == nil {
		c.resolver = NewResolver(c.registry, log)
	}

	ctor, id, err := c.resolver.Resolve(targetType, s.Options())
	if err != nil {
		return nil, err
	}
	t, err := ctor(s)
	if err != nil {
		return nil, &ConstructionError{TargetType: id, Err: err}
	}
	if t == nil {
		return nil, &ConstructionError{TargetType: id, Err: fmt.Errorf("constructor returned no target")}
	}

	b := &Board{
		session:    s,
		target:     t,
		targetType: id,
		testBinary: s.Options().String(session.OptTestBinary, ""),
		log:        log.With(zap.String("target", id)),
		state:      StateUninitialized,
	}
	b.log.Info("Target type is " + id)
	return b, nil
}

// UniqueID returns the probe's unique id, or "" without a probe.
func (b *Board) UniqueID() string {
	if p := b.session.Probe(); p != nil {
		return p.UniqueID()
	}
	return ""
}

func (b *Board) TargetType() string { return b.targetType }

// TestBinary is the "test_binary" option captured at construction.
func (b *Board) TestBinary() string { return b.testBinary }

func (b *Board) Name() string { return Name }

// Description is "{vendor} {product} [{target_type}]" using the probe's
// identity.
func (b *Board) Description() string {
	var vendor, product string
	if p := b.session.Probe(); p != nil {
		vendor, product = p.VendorName(), p.ProductName()
	}
	return fmt.Sprintf("%s %s [%s]", vendor, product, b.targetType)
}

func (b *Board) Delegate() any             { return b.delegate }
func (b *Board) SetDelegate(d any)         { b.delegate = d }
func (b *Board) Target() target.Target     { return b.target }
func (b *Board) Session() *session.Session { return b.session }

// Initialized reports whether Init succeeded and Uninit has not run since.
func (b *Board) Initialized() bool { return b.state == StateReady }

func (b *Board) String() string { return b.Description() }
