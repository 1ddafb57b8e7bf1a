package builtins

import (
	"encoding/json"

	"github.com/fluencelabs/go-client/internal/avm"
	"github.com/fluencelabs/go-client/internal/services"
	"github.com/fluencelabs/go-client/internal/utils"
)

// TracingServiceID is the reserved service id for AIR-emitted span events.
const TracingServiceID = "tracing"

type spanEvent struct {
	Name   string `json:"name"`
	Event  string `json:"event"`
	Detail string `json:"detail,omitempty"`
}

// RegisterTracing wires tracing.add_span onto r, routing span events into
// logger the same way the rest of the peer's subsystems report through it.
func RegisterTracing(r *services.Registry, logger *utils.Logger) {
	if logger == nil {
		logger = utils.DefaultLogger("tracing")
	} else {
		logger = logger.Named("tracing")
	}

	r.RegisterGlobalHandler(TracingServiceID, "add_span", func(req avm.CallServiceData) (json.RawMessage, error) {
		var ev spanEvent
		if len(req.Args) > 0 {
			_ = json.Unmarshal(req.Args[0], &ev)
		}
		logger.Debug("air span",
			utils.String("particleId", req.ParticleContext.ParticleID),
			utils.String("name", ev.Name),
			utils.String("event", ev.Event),
			utils.String("detail", ev.Detail))
		return json.Marshal(true)
	})
}
