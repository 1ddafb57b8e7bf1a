// Package marine is a thin facade over the Marine WASM runtime: it hosts the
// AVM module as service "avm" (functions "invoke" and "ast") plus any
// user-registered WASM services, as a long-lived, per-service-serialized
// host.
package marine

import (
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/fluencelabs/go-client/internal/utils"
)

type service struct {
	mu       sync.Mutex // serializes calls into this module, per §4.3
	instance *wasmer.Instance
	breaker  *gobreaker.CircuitBreaker
}

// Host manages the lifetime of every WASM service registered on this peer.
type Host struct {
	mu       sync.RWMutex
	engine   *wasmer.Engine
	store    *wasmer.Store
	services map[string]*service
	logger   *utils.Logger
	started  bool
}

// NewHost creates an unstarted Marine host.
func NewHost(logger *utils.Logger) *Host {
	if logger == nil {
		logger = utils.DefaultLogger("marine")
	}
	engine := wasmer.NewEngine()
	return &Host{
		engine:   engine,
		store:    wasmer.NewStore(engine),
		services: make(map[string]*service),
		logger:   logger,
	}
}

// Start marks the host ready to accept service calls.
func (h *Host) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = true
	h.logger.Info("marine host started")
	return nil
}

// Stop releases every registered service instance.
func (h *Host) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.services = make(map[string]*service)
	h.started = false
	h.logger.Info("marine host stopped")
	return nil
}

// CreateService instantiates a WASM module and registers it under serviceID,
// including the mandatory "avm" service.
func (h *Host) CreateService(wasmBytes []byte, serviceID string) error {
	module, err := wasmer.NewModule(h.store, wasmBytes)
	if err != nil {
		return fmt.Errorf("compile wasm module %q: %w", serviceID, err)
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return fmt.Errorf("instantiate wasm module %q: %w", serviceID, err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        serviceID,
		MaxRequests: 1,
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.services[serviceID] = &service{instance: instance, breaker: breaker}
	h.logger.Info("registered marine service", utils.String("serviceId", serviceID))
	return nil
}

// RemoveService drops a previously registered service.
func (h *Host) RemoveService(serviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.services, serviceID)
}

// HasService reports whether serviceID is currently registered.
func (h *Host) HasService(serviceID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.services[serviceID]
	return ok
}

// CallService invokes fnName on serviceID with the given opaque byte
// argument, serialized per-service (callService is never called
// concurrently twice on the same module) and guarded by a circuit breaker.
func (h *Host) CallService(serviceID, fnName string, args []byte) ([]byte, error) {
	h.mu.RLock()
	svc, ok := h.services[serviceID]
	started := h.started
	h.mu.RUnlock()

	if !started {
		return nil, utils.NotInitialized("marine host is not started")
	}
	if !ok {
		return nil, fmt.Errorf("marine: no such service %q", serviceID)
	}

	result, err := svc.breaker.Execute(func() (interface{}, error) {
		svc.mu.Lock()
		defer svc.mu.Unlock()

		fn, err := svc.instance.Exports.GetFunction(fnName)
		if err != nil {
			return nil, fmt.Errorf("marine: service %q has no function %q: %w", serviceID, fnName, err)
		}
		return fn(args)
	})
	if err != nil {
		return nil, err
	}
	if out, ok := result.([]byte); ok {
		return out, nil
	}
	return nil, nil
}
