package engine

import (
	"encoding/json"

	"github.com/fluencelabs/go-client/internal/avm"
	"github.com/fluencelabs/go-client/internal/particle"
)

// MarineCaller is the subset of the Marine host the engine depends on.
type MarineCaller interface {
	CallService(serviceID, fnName string, args []byte) ([]byte, error)
	HasService(serviceID string) bool
}

// ServiceCaller is the subset of the JS-style service registry the engine
// depends on.
type ServiceCaller interface {
	CallService(req avm.CallServiceData) (avm.CallServiceResult, bool)
	RemoveParticleScopeHandlers(particleID string)
}

// Connection is the subset of the relay connection the engine depends on.
type Connection interface {
	SendParticle(nextPeerIDs []string, p *particle.Particle) error
	Subscribe() <-chan *particle.Particle
}

// queueItem is one unit of work flowing through a signature group: a
// particle plus the call results it carries back into the next AVM
// invocation, and the single-shot completion callbacks for its originating
// InitiateParticle call.
type queueItem struct {
	particle    *particle.Particle
	callResults map[uint32]avm.CallServiceResult
	onSuccess   func(json.RawMessage)
	onError     func(error)
}
