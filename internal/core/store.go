package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"odmcore/pkg/frame"
	"odmcore/pkg/schema"
)

// Source is anything that can hand the store a set of canonical tables:
// a mapper over source files, a database read-back or another store's
// snapshot. Missing tables are returned as nil.
type Source interface {
	Validates() bool
	Table(name string) *frame.Frame
}

type tableSet map[string]*frame.Frame

func newTableSet() tableSet {
	set := make(tableSet, len(schema.TableNames()))
	for _, t := range schema.Tables() {
		set[t.Name] = frame.FromSchema(t)
	}
	return set
}

func (s tableSet) clone() tableSet {
	cloned := make(tableSet, len(s))
	for name, f := range s {
		cloned[name] = f.Clone()
	}
	return cloned
}

func (s tableSet) Table(name string) *frame.Frame { return s[name] }

// Option configures a Store.
type Option func(*Store)

// WithRulesEngine replaces the default rules engine. A nil engine disables
// rule evaluation.
func WithRulesEngine(engine *RulesEngine) Option {
	return func(s *Store) { s.engine = engine }
}

// WithLogger sets the logger used for rule warnings and commits.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the recorder notified of every append and load.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Store owns the ten canonical tables. Appends are applied to a copy of the
// table set and committed only when every table merged and no blocking rule
// fired.
type Store struct {
	mu      sync.RWMutex
	state   tableSet
	engine  *RulesEngine
	logger  *zap.Logger
	metrics MetricsRecorder
	nowFn   func() time.Time
}

// NewStore constructs an empty store with every table typed per the registry.
func NewStore(opts ...Option) *Store {
	s := &Store{
		state:   newTableSet(),
		engine:  NewDefaultRulesEngine(),
		logger:  zap.NewNop(),
		metrics: noopMetrics{},
		nowFn:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append merges src into the store. A table that is empty in the store is
// replaced by the source's copy; otherwise the source rows are appended and
// exact duplicate rows dropped, keeping the first occurrence.
func (s *Store) Append(ctx context.Context, src Source) (Result, error) {
	return s.apply(ctx, "append", src, func(t schema.Table, current, incoming *frame.Frame) (*frame.Frame, error) {
		if current.Empty() {
			return frame.FromSchema(t).Concat(incoming)
		}
		merged, err := current.Concat(incoming)
		if err != nil {
			return nil, err
		}
		return merged.DropDuplicates(), nil
	})
}

// Load replaces every table with the source's, deduplicating each one.
func (s *Store) Load(ctx context.Context, src Source) (Result, error) {
	return s.apply(ctx, "load", src, func(t schema.Table, _, incoming *frame.Frame) (*frame.Frame, error) {
		fresh, err := frame.FromSchema(t).Concat(incoming)
		if err != nil {
			return nil, err
		}
		return fresh.DropDuplicates(), nil
	})
}

type mergeFunc func(t schema.Table, current, incoming *frame.Frame) (*frame.Frame, error)

func (s *Store) apply(ctx context.Context, op string, src Source, merge mergeFunc) (res Result, err error) {
	start := s.nowFn()
	defer func() {
		s.metrics.Observe(ctx, op, err == nil, s.nowFn().Sub(start))
	}()
	if src == nil || !src.Validates() {
		return Result{}, ValidationError{Problems: []string{"source reports invalid data"}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	incoming := make(tableSet, len(s.state))
	candidate := s.state.clone()
	for _, t := range schema.Tables() {
		in := src.Table(t.Name)
		if in == nil {
			if op == "load" {
				candidate[t.Name] = frame.FromSchema(t)
			}
			continue
		}
		incoming[t.Name] = in
	}

	pre, err := NewSchemaConformanceRule().Evaluate(ctx, nil, incoming)
	if err != nil {
		return Result{}, err
	}
	if pre.HasBlocking() {
		return pre, pre.validationError()
	}

	for _, t := range schema.Tables() {
		in, ok := incoming[t.Name]
		if !ok {
			continue
		}
		merged, err := merge(t, candidate[t.Name], in)
		if err != nil {
			return Result{}, ValidationError{Table: t.Name, Problems: []string{err.Error()}}
		}
		candidate[t.Name] = merged
	}

	if s.engine != nil {
		res, err = s.engine.Evaluate(ctx, candidate, incoming)
		if err != nil {
			return Result{}, err
		}
		if res.HasBlocking() {
			return res, res.validationError()
		}
	}
	for _, v := range res.Violations {
		s.logger.Warn("rule violation",
			zap.String("rule", v.Rule),
			zap.String("table", v.Table),
			zap.String("severity", string(v.Severity)),
			zap.String("message", v.Message))
	}

	s.state = candidate
	for _, t := range schema.Tables() {
		n := candidate[t.Name].Len()
		if ro, ok := s.metrics.(rowObserver); ok {
			ro.ObserveRows(t.Name, n)
		}
		if _, touched := incoming[t.Name]; touched {
			s.logger.Debug("table committed", zap.String("op", op), zap.String("table", t.Name), zap.Int("rows", n))
		}
	}
	return res, nil
}

// Table returns a copy of the named table, or nil for unknown names.
func (s *Store) Table(name string) *frame.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.state[name]
	if !ok {
		return nil
	}
	return f.Clone()
}

// Len returns the number of rows held in the named table.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state[name].Len()
}

// Snapshot returns a consistent, detached copy of every table usable as a
// Source.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{tables: s.state.clone()}
}

// Snapshot is a frozen copy of a store.
type Snapshot struct {
	tables tableSet
}

// Validates is always true: a snapshot was validated on its way in.
func (s *Snapshot) Validates() bool { return true }

// Table returns the named table. Callers must not mutate it.
func (s *Snapshot) Table(name string) *frame.Frame { return s.tables[name] }

// Require returns the named table or an error for unknown names.
func (s *Snapshot) Require(name string) (*frame.Frame, error) {
	f, ok := s.tables[name]
	if !ok {
		return nil, ErrUnknownTable{Name: name}
	}
	return f, nil
}

// Tables returns the snapshot as a map keyed by table name.
func (s *Snapshot) Tables() map[string]*frame.Frame {
	out := make(map[string]*frame.Frame, len(s.tables))
	for k, v := range s.tables {
		out[k] = v
	}
	return out
}

var _ Source = (*Snapshot)(nil)
