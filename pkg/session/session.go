// Package session holds the state shared by everything bound to one debug
// connection: option store, probe, delegate and logger.
package session

import (
	"go.uber.org/zap"

	"github.com/OpenTraceLab/OpenTraceBoard/pkg/probe"
)

// Session is shared, externally owned context. Boards keep a reference to it
// but never control its lifetime.
type Session struct {
	options  *Options
	probe    probe.Probe
	delegate any
	logger   *zap.Logger
}

// Option configures a Session.
type Option func(*Session)

func WithProbe(p probe.Probe) Option {
	return func(s *Session) { s.probe = p }
}

// WithDelegate sets the observer boards adopt when they have none of their
// own. It may implement any subset of the board hook interfaces.
func WithDelegate(d any) Option {
	return func(s *Session) { s.delegate = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New creates a session. A nil options store is replaced by an empty one.
func New(options *Options, opts ...Option) *Session {
	if options == nil {
		options = NewOptions(nil)
	}
	s := &Session{options: options}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *Session) Options() *Options   { return s.options }
func (s *Session) Probe() probe.Probe  { return s.probe }
func (s *Session) Delegate() any       { return s.delegate }
func (s *Session) Logger() *zap.Logger { return s.logger }
func (s *Session) SetDelegate(d any)   { s.delegate = d }
