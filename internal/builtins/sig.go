// Package builtins implements the host-resident services every peer carries
// regardless of which Aqua scripts it runs: identity/signing, WASM service
// lifecycle, and span tracing.
package builtins

import (
	"encoding/base64"
	"encoding/json"

	"github.com/fluencelabs/go-client/internal/avm"
	"github.com/fluencelabs/go-client/internal/keypair"
	"github.com/fluencelabs/go-client/internal/services"
)

// SigServiceID is the reserved service id for the per-peer signing service.
const SigServiceID = "sig"

type signResult struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterSig wires get_peer_id/sign/verify onto r under SigServiceID. sign
// is gated by a security guard: only a particle whose initPeerId is this
// peer's own id, with a tetraplet proving the signed bytes originated
// locally, may request a signature under this identity.
func RegisterSig(r *services.Registry, kp *keypair.KeyPair) {
	r.RegisterGlobalHandler(SigServiceID, "get_peer_id", func(req avm.CallServiceData) (json.RawMessage, error) {
		return json.Marshal(kp.PeerID())
	})

	r.RegisterGlobalHandler(SigServiceID, "sign", func(req avm.CallServiceData) (json.RawMessage, error) {
		if !signSecurityGuard(req, kp.PeerID()) {
			return json.Marshal(signResult{Success: false, Error: "forbidden"})
		}

		var data []byte
		if len(req.Args) > 0 {
			if err := json.Unmarshal(req.Args[0], &data); err != nil {
				return json.Marshal(signResult{Success: false, Error: "malformed data argument"})
			}
		}

		sig := kp.SignBytes(data)
		return json.Marshal(signResult{Success: true, Signature: base64.StdEncoding.EncodeToString(sig)})
	})

	r.RegisterGlobalHandler(SigServiceID, "verify", func(req avm.CallServiceData) (json.RawMessage, error) {
		if len(req.Args) < 2 {
			return json.Marshal(false)
		}
		var sigB64 string
		var data []byte
		if err := json.Unmarshal(req.Args[0], &sigB64); err != nil {
			return json.Marshal(false)
		}
		if err := json.Unmarshal(req.Args[1], &data); err != nil {
			return json.Marshal(false)
		}
		sig, err := base64.StdEncoding.DecodeString(sigB64)
		if err != nil {
			return json.Marshal(false)
		}
		return json.Marshal(keypair.Verify(kp.PublicKey(), data, sig))
	})
}

// signSecurityGuard allows sign only for particles initiated locally whose
// data argument's tetraplet also proves a local origin.
func signSecurityGuard(req avm.CallServiceData, selfPeerID string) bool {
	if req.ParticleContext.InitPeerID != selfPeerID {
		return false
	}
	if len(req.Tetraplets) == 0 || len(req.Tetraplets[0]) == 0 {
		return false
	}
	return req.Tetraplets[0][0].PeerPk == selfPeerID
}
