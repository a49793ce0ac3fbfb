package pipeline

import (
	"context"
	"fmt"
	"sort"
)

// SequenceStrategy is the substitution point for the detection and
// correspondence stage. DoSequence owns the whole frame loop.
type SequenceStrategy interface {
	DoSequence(ctx context.Context, rc *RunContext) error
}

// TrackingStrategy is the substitution point for the linking stage.
type TrackingStrategy interface {
	DoTracking(ctx context.Context, rc *RunContext) error
	DoTrackingBack(ctx context.Context, rc *RunContext) error
}

// DefaultStrategy is the name of the built-in sequence and tracking
// strategies.
const DefaultStrategy = "default"

// Registry holds the closed set of known strategies: the built-ins plus
// any external modules registered by the embedding program. Resolution
// happens once per run; strategies are never re-resolved per frame.
type Registry struct {
	seq map[string]SequenceStrategy
	trk map[string]TrackingStrategy
}

// NewRegistry returns a registry with the built-in strategies registered
// under DefaultStrategy.
func NewRegistry() *Registry {
	r := &Registry{
		seq: make(map[string]SequenceStrategy),
		trk: make(map[string]TrackingStrategy),
	}
	r.RegisterSequence(DefaultStrategy, defaultSequence{})
	r.RegisterTracking(DefaultStrategy, defaultTracking{})
	return r
}

// RegisterSequence adds or replaces a named sequence strategy. External
// modules register their capability handle here before a run resolves it.
func (r *Registry) RegisterSequence(name string, s SequenceStrategy) {
	r.seq[name] = s
}

// RegisterTracking adds or replaces a named tracking strategy.
func (r *Registry) RegisterTracking(name string, t TrackingStrategy) {
	r.trk[name] = t
}

// ResolveSequence looks up a sequence strategy by name.
func (r *Registry) ResolveSequence(name string) (SequenceStrategy, error) {
	s, ok := r.seq[name]
	if !ok {
		return nil, fmt.Errorf("%w: sequence %q (have %v)", ErrPluginNotFound, name, r.SequenceNames())
	}
	return s, nil
}

// ResolveTracking looks up a tracking strategy by name.
func (r *Registry) ResolveTracking(name string) (TrackingStrategy, error) {
	t, ok := r.trk[name]
	if !ok {
		return nil, fmt.Errorf("%w: tracking %q (have %v)", ErrPluginNotFound, name, r.TrackingNames())
	}
	return t, nil
}

// SequenceNames lists the registered sequence strategies, sorted.
func (r *Registry) SequenceNames() []string { return sortedKeys(r.seq) }

// TrackingNames lists the registered tracking strategies, sorted.
func (r *Registry) TrackingNames() []string { return sortedKeys(r.trk) }

func sortedKeys[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
