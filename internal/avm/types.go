// Package avm defines the data shapes exchanged with the AIR interpreter
// across the Marine "invoke"/"ast" ABI. The interpreter itself is an
// external black box; this package only carries values across that
// boundary.
package avm

import "encoding/json"

// AVMServiceID is the well-known Marine service id the engine calls
// "invoke"/"ast" on. Every peer must register a WASM module under this id
// before initiating or receiving any particle.
const AVMServiceID = "avm"

// Tetraplet is the per-argument provenance lattice produced by AVM. It is
// carried unchanged — nothing here reconstructs or re-signs it.
type Tetraplet struct {
	PeerPk       string `json:"peer_pk"`
	ServiceID    string `json:"service_id"`
	FunctionName string `json:"function_name"`
	JSONPath     string `json:"json_path"`
}

// ParticleContext accompanies every call-service request with the
// particle's identity fields.
type ParticleContext struct {
	ParticleID string        `json:"particleId"`
	InitPeerID string        `json:"initPeerId"`
	Timestamp  uint64        `json:"timestamp"`
	TTL        uint32        `json:"ttl"`
	Signature  []byte        `json:"signature"`
	Tetraplets [][]Tetraplet `json:"tetraplets"`
}

// CallServiceData is what AVM hands the host for one outbound service call.
type CallServiceData struct {
	ServiceID       string            `json:"serviceId"`
	FnName          string            `json:"fnName"`
	Args            []json.RawMessage `json:"args"`
	Tetraplets      [][]Tetraplet     `json:"tetraplets"`
	ParticleContext ParticleContext   `json:"particleContext"`
}

// Success and error retCodes AVM reports for a single invocation.
const (
	RetCodeSuccess = 0
	RetCodeError   = 1
)

// CallServiceResult is what the host hands back to AVM for one call request.
type CallServiceResult struct {
	RetCode int             `json:"retCode"`
	Result  json.RawMessage `json:"result"`
}

// OK builds a success result.
func OK(result json.RawMessage) CallServiceResult {
	return CallServiceResult{RetCode: RetCodeSuccess, Result: result}
}

// Fail builds an error result carrying a JSON string message.
func Fail(message string) CallServiceResult {
	encoded, _ := json.Marshal(message)
	return CallServiceResult{RetCode: RetCodeError, Result: encoded}
}

// CallRequest is one entry of InterpreterResult.CallRequests: a pending
// outbound call AVM wants the host to service, keyed by an opaque sequence
// number that must be echoed back in the next invoke's CallResults.
type CallRequest struct {
	ServiceID  string            `json:"service_id"`
	FnName     string            `json:"function_name"`
	Arguments  []json.RawMessage `json:"arguments"`
	Tetraplets [][]Tetraplet     `json:"tetraplets"`
}

// InterpreterResult is the decoded response of one AVM "invoke" call.
type InterpreterResult struct {
	RetCode      int                   `json:"ret_code"`
	Data         []byte                `json:"data"`
	ErrorMessage string                `json:"error_message"`
	NextPeerPks  []string              `json:"next_peer_pks"`
	CallRequests map[uint32]CallRequest `json:"call_requests"`
}

// InvokeArgs is everything passed to AVM's "invoke" export.
type InvokeArgs struct {
	InitPeerID     string                       `json:"init_peer_id"`
	CurrentPeerID  string                       `json:"current_peer_id"`
	Timestamp      uint64                       `json:"timestamp"`
	TTL            uint32                       `json:"ttl"`
	KeyFormat      string                       `json:"key_format"`
	ParticleID     string                       `json:"particle_id"`
	SecretKeyBytes []byte                       `json:"secret_key_bytes"`
	Script         string                       `json:"air"`
	PrevData       []byte                       `json:"prev_data"`
	CurrentData    []byte                       `json:"current_data"`
	CallResults    map[uint32]CallServiceResult `json:"call_results"`
}

// SerializeInvokeArgs encodes the invoke ABI payload. The wire shape is
// JSON, matching the particle envelope's own encoding choice (see
// DESIGN.md for why no generated-binding codec from the example pack was
// used here).
func SerializeInvokeArgs(args InvokeArgs) ([]byte, error) {
	return json.Marshal(args)
}

// DeserializeInterpreterResult decodes one AVM "invoke" response.
func DeserializeInterpreterResult(data []byte) (*InterpreterResult, error) {
	var result InterpreterResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	if result.CallRequests == nil {
		result.CallRequests = make(map[uint32]CallRequest)
	}
	return &result, nil
}
