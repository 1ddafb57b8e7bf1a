package builtins

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/fluencelabs/go-client/internal/avm"
	"github.com/fluencelabs/go-client/internal/keypair"
	"github.com/fluencelabs/go-client/internal/services"
)

func localTetraplet(peerID string) [][]avm.Tetraplet {
	return [][]avm.Tetraplet{{{PeerPk: peerID}}}
}

func TestSigGetPeerID(t *testing.T) {
	kp, err := keypair.Generate()
	if err != nil {
		t.Fatalf("keypair.Generate: %v", err)
	}
	r := services.NewRegistry()
	RegisterSig(r, kp)

	res, ok := r.CallService(avm.CallServiceData{ServiceID: SigServiceID, FnName: "get_peer_id"})
	if !ok {
		t.Fatal("expected a handler match for sig.get_peer_id")
	}
	var got string
	if err := json.Unmarshal(res.Result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got != kp.PeerID() {
		t.Fatalf("get_peer_id = %s, want %s", got, kp.PeerID())
	}
}

func TestSigSignAllowsLocalOrigin(t *testing.T) {
	kp, err := keypair.Generate()
	if err != nil {
		t.Fatalf("keypair.Generate: %v", err)
	}
	r := services.NewRegistry()
	RegisterSig(r, kp)

	dataArg, _ := json.Marshal([]byte("hello"))
	req := avm.CallServiceData{
		ServiceID:  SigServiceID,
		FnName:     "sign",
		Args:       []json.RawMessage{dataArg},
		Tetraplets: localTetraplet(kp.PeerID()),
		ParticleContext: avm.ParticleContext{
			InitPeerID: kp.PeerID(),
		},
	}

	res, ok := r.CallService(req)
	if !ok {
		t.Fatal("expected a handler match for sig.sign")
	}
	var out signResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected sign to succeed, got error: %s", out.Error)
	}
	sig, err := base64.StdEncoding.DecodeString(out.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if !keypair.Verify(kp.PublicKey(), []byte("hello"), sig) {
		t.Fatal("signature does not verify against the signed bytes")
	}
}

func TestSigSignRejectsForeignOrigin(t *testing.T) {
	kp, err := keypair.Generate()
	if err != nil {
		t.Fatalf("keypair.Generate: %v", err)
	}
	r := services.NewRegistry()
	RegisterSig(r, kp)

	dataArg, _ := json.Marshal([]byte("hello"))
	req := avm.CallServiceData{
		ServiceID:  SigServiceID,
		FnName:     "sign",
		Args:       []json.RawMessage{dataArg},
		Tetraplets: localTetraplet("some-other-peer"),
		ParticleContext: avm.ParticleContext{
			InitPeerID: "some-other-peer",
		},
	}

	res, ok := r.CallService(req)
	if !ok {
		t.Fatal("expected a handler match for sig.sign")
	}
	var out signResult
	if err := json.Unmarshal(res.Result, &out); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if out.Success {
		t.Fatal("expected sign to be forbidden for a foreign-originated particle")
	}
	if out.Error != "forbidden" {
		t.Fatalf("error = %q, want forbidden", out.Error)
	}
}
