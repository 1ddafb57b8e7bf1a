package builtins

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/fluencelabs/go-client/internal/avm"
	"github.com/fluencelabs/go-client/internal/services"
	"github.com/fluencelabs/go-client/internal/utils"
)

// SrvServiceID is the reserved service id for dynamic WASM service
// registration.
const SrvServiceID = "srv"

type createResult struct {
	Success   bool   `json:"success"`
	ServiceID string `json:"service_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MarineServices is the subset of the Marine host srv bridges to.
type MarineServices interface {
	CreateService(wasmBytes []byte, serviceID string) error
	RemoveService(serviceID string)
}

// RegisterSrv wires create/remove onto r under SrvServiceID, bridging WASM
// module registration requests to marine.
func RegisterSrv(r *services.Registry, marine MarineServices) {
	r.RegisterGlobalHandler(SrvServiceID, "create", func(req avm.CallServiceData) (json.RawMessage, error) {
		if len(req.Args) == 0 {
			return json.Marshal(createResult{Success: false, Error: "missing wasm_b64 argument"})
		}
		var wasmB64 string
		if err := json.Unmarshal(req.Args[0], &wasmB64); err != nil {
			return json.Marshal(createResult{Success: false, Error: "malformed wasm_b64 argument"})
		}
		wasmBytes, err := base64.StdEncoding.DecodeString(wasmB64)
		if err != nil {
			return json.Marshal(createResult{Success: false, Error: "invalid base64"})
		}

		serviceID := nextServiceID()
		if err := marine.CreateService(wasmBytes, serviceID); err != nil {
			return json.Marshal(createResult{Success: false, Error: err.Error()})
		}
		return json.Marshal(createResult{Success: true, ServiceID: serviceID})
	})

	r.RegisterGlobalHandler(SrvServiceID, "remove", func(req avm.CallServiceData) (json.RawMessage, error) {
		if len(req.Args) == 0 {
			return nil, utils.ServiceError("missing service_id argument")
		}
		var serviceID string
		if err := json.Unmarshal(req.Args[0], &serviceID); err != nil {
			return nil, utils.ServiceError("malformed service_id argument")
		}
		marine.RemoveService(serviceID)
		return json.Marshal(true)
	})
}

func nextServiceID() string {
	return fmt.Sprintf("service-%s", uuid.NewString())
}
