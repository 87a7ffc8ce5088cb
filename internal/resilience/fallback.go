package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned by [Router.Execute] when no backend admitted the
// call because every breaker is open.
var ErrAllFailed = errors.New("resilience: no backend available")

// RouterConfig configures the breaker created for each backend of a [Router].
type RouterConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

type route[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// Router holds a primary backend and ordered fallbacks, each behind its own
// [CircuitBreaker]. Backends must be added before the first call.
type Router[T any] struct {
	routes []route[T]
	cfg    RouterConfig
}

// NewRouter creates a [Router] with primary as its first backend.
func NewRouter[T any](primary T, primaryName string, cfg RouterConfig) *Router[T] {
	r := &Router[T]{cfg: cfg}
	r.Add(primaryName, primary)
	return r
}

// Add appends a fallback backend, tried after every backend added before it.
func (r *Router[T]) Add(name string, value T) {
	bc := r.cfg.CircuitBreaker
	bc.Name = name
	r.routes = append(r.routes, route[T]{name: name, value: value, breaker: NewCircuitBreaker(bc)})
}

// Names returns the backend names in routing order.
func (r *Router[T]) Names() []string {
	names := make([]string, len(r.routes))
	for i, rt := range r.routes {
		names[i] = rt.name
	}
	return names
}

// Primary returns the first backend.
func (r *Router[T]) Primary() T { return r.routes[0].value }

// Breaker returns the breaker guarding the named backend, or nil.
func (r *Router[T]) Breaker(name string) *CircuitBreaker {
	for _, rt := range r.routes {
		if rt.name == name {
			return rt.breaker
		}
	}
	return nil
}

// Execute runs fn against the first backend whose breaker admits the call and
// returns that backend's name and fn's error. A failure is final: it counts
// against that backend's breaker and is not retried on the next backend.
// Returns [ErrAllFailed] when every breaker rejected the call.
func (r *Router[T]) Execute(fn func(T) error) (string, error) {
	for i := range r.routes {
		rt := &r.routes[i]
		err := rt.breaker.Execute(func() error { return fn(rt.value) })
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping backend, circuit open", "backend", rt.name)
			continue
		}
		return rt.name, err
	}
	return "", fmt.Errorf("%w: %d backends open", ErrAllFailed, len(r.routes))
}

// ExecuteWithResult is [Router.Execute] for calls that produce a value.
func ExecuteWithResult[T, R any](r *Router[T], fn func(T) (R, error)) (R, string, error) {
	var result R
	name, err := r.Execute(func(v T) error {
		var innerErr error
		result, innerErr = fn(v)
		return innerErr
	})
	return result, name, err
}
