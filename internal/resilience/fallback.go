package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed reports that a [FallbackGroup] ran out of candidates: every
// registered backend either failed or was skipped because its circuit
// breaker is open.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig holds the circuit-breaker settings applied to every backend
// registered in a [FallbackGroup]. Each backend gets its own breaker so that
// one flapping backend cannot poison the health state of another.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// FallbackGroup orders instances of one backend type by preference and serves
// each call from the first healthy one. The primary is always tried first;
// fallbacks follow in registration order, and entries with an open circuit
// breaker are passed over without a call.
//
// The entry list is fixed after setup; Execute may run concurrently.
type FallbackGroup[T any] struct {
	entries []*fallbackEntry[T]
	cfg     FallbackConfig
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// NewFallbackGroup builds a group around the primary backend. Register
// lower-preference backends with [FallbackGroup.AddFallback] before serving
// calls.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback registers backend behind every previously registered entry.
func (fg *FallbackGroup[T]) AddFallback(name string, backend T) {
	fg.add(name, backend)
}

func (fg *FallbackGroup[T]) add(name string, backend T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, &fallbackEntry[T]{
		name:    name,
		value:   backend,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute runs fn against the first entry that accepts the call and succeeds.
// When every entry fails it returns [ErrAllFailed] wrapping the last failure.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. It is a package-level function because methods cannot carry their
// own type parameters.
func ExecuteWithResult[T any, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for _, entry := range fg.entries {
		result, err := attempt(entry, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// attempt routes one call through the entry's circuit breaker and logs the
// outcome on failure.
func attempt[T any, R any](e *fallbackEntry[T], fn func(T) (R, error)) (R, error) {
	var result R
	err := e.breaker.Execute(func() error {
		var callErr error
		result, callErr = fn(e.value)
		return callErr
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrCircuitOpen):
		slog.Debug("skipping backend (circuit open)", "backend", e.name)
	default:
		slog.Warn("backend failed, trying next", "backend", e.name, "error", err)
	}
	return result, err
}
