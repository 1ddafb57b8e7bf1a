// Package services implements the in-process JS-style service handler
// registry: a global handler table plus per-particle scopes that shadow
// it and are dropped on expiration or completion.
package services

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fluencelabs/go-client/internal/avm"
)

// Handler answers one call-service request. It may return a ServiceError
// (see internal/utils) to signal a deliberate rejection, or any other error
// for an unexpected failure; both are turned into retCode=error results by
// the registry, never propagated to the engine.
type Handler func(req avm.CallServiceData) (json.RawMessage, error)

type key struct {
	serviceID string
	fnName    string
}

// Registry holds global and per-particle service handlers. Safe for
// concurrent use: the engine dispatches call requests from one AVM
// invocation in parallel.
type Registry struct {
	mu          sync.RWMutex
	global      map[key]Handler
	perParticle map[string]map[key]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		global:      make(map[key]Handler),
		perParticle: make(map[string]map[key]Handler),
	}
}

// RegisterGlobalHandler installs a handler visible to every particle.
func (r *Registry) RegisterGlobalHandler(serviceID, fnName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global[key{serviceID, fnName}] = h
}

// RegisterParticleScopeHandler installs a handler visible only while
// processing particleID; it shadows any global handler at the same
// (serviceID, fnName) for that particle alone.
func (r *Registry) RegisterParticleScopeHandler(particleID, serviceID, fnName string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	scope, ok := r.perParticle[particleID]
	if !ok {
		scope = make(map[key]Handler)
		r.perParticle[particleID] = scope
	}
	scope[key{serviceID, fnName}] = h
}

// RemoveParticleScopeHandlers drops every handler scoped to particleID.
// Called on expiration or terminal completion so closures are not retained
// past their particle's lifetime.
func (r *Registry) RemoveParticleScopeHandlers(particleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.perParticle, particleID)
}

// HasService reports whether any function is registered under serviceID,
// globally or for the given particle.
func (r *Registry) HasService(particleID, serviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if scope, ok := r.perParticle[particleID]; ok {
		for k := range scope {
			if k.serviceID == serviceID {
				return true
			}
		}
	}
	for k := range r.global {
		if k.serviceID == serviceID {
			return true
		}
	}
	return false
}

// CallService resolves and invokes a handler for req, preferring a
// particle-scope match over a global one. It returns a zero result and false
// when no handler matches, letting the caller fabricate a "no service found" error.
func (r *Registry) CallService(req avm.CallServiceData) (avm.CallServiceResult, bool) {
	k := key{req.ServiceID, req.FnName}
	particleID := req.ParticleContext.ParticleID

	r.mu.RLock()
	var h Handler
	if scope, ok := r.perParticle[particleID]; ok {
		if handler, ok := scope[k]; ok {
			h = handler
		}
	}
	if h == nil {
		if handler, ok := r.global[k]; ok {
			h = handler
		}
	}
	r.mu.RUnlock()

	if h == nil {
		return avm.CallServiceResult{}, false
	}

	result, err := h(req)
	if err != nil {
		return avm.Fail(err.Error()), true
	}
	return avm.OK(result), true
}

// NoServiceFoundError formats the reserved message AVM expects for a call
// request that no host service, Marine or registry, could resolve.
func NoServiceFoundError(req avm.CallServiceData) string {
	return fmt.Sprintf("No service found for serviceId='%s', fnName='%s' args='%v'", req.ServiceID, req.FnName, req.Args)
}
