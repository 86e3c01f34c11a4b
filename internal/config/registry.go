package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/captionseek/internal/match"
	"github.com/MrWong99/captionseek/internal/match/phonetic"
)

// ErrContainmentNotRegistered is returned by [Registry.CreateContainment]
// when no factory has been registered under the requested name.
var ErrContainmentNotRegistered = errors.New("config: containment not registered")

// ContainmentFactory builds a containment rule from the matcher settings.
type ContainmentFactory func(MatcherConfig) (match.Containment, error)

// Registry maps containment names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	containments map[Containment]ContainmentFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		containments: make(map[Containment]ContainmentFactory),
	}
}

// NewDefaultRegistry returns a [Registry] with the built-in
// [ContainmentSubstring] and [ContainmentPhonetic] rules registered.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterContainment(ContainmentSubstring, func(MatcherConfig) (match.Containment, error) {
		return match.Substring{}, nil
	})
	r.RegisterContainment(ContainmentPhonetic, func(mc MatcherConfig) (match.Containment, error) {
		return phonetic.New(
			phonetic.WithPhoneticThreshold(mc.PhoneticThreshold),
			phonetic.WithFuzzyThreshold(mc.FuzzyThreshold),
		), nil
	})
	return r
}

// RegisterContainment registers a containment factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterContainment(name Containment, factory ContainmentFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.containments[name] = factory
}

// CreateContainment instantiates the containment rule registered under
// mc.Containment. Returns [ErrContainmentNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreateContainment(mc MatcherConfig) (match.Containment, error) {
	r.mu.RLock()
	factory, ok := r.containments[mc.Containment]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrContainmentNotRegistered, mc.Containment)
	}
	return factory(mc)
}
