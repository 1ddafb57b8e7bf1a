package peerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fluencelabs/go-client/internal/avm"
	"github.com/fluencelabs/go-client/internal/config"
	"github.com/fluencelabs/go-client/internal/engine"
	"github.com/fluencelabs/go-client/internal/keypair"
	"github.com/fluencelabs/go-client/internal/particle"
	"github.com/fluencelabs/go-client/internal/services"
)

type fakeMarine struct {
	mu     sync.Mutex
	script func(avm.InvokeArgs) (*avm.InterpreterResult, error)
}

func (f *fakeMarine) HasService(serviceID string) bool { return serviceID == avm.AVMServiceID }

func (f *fakeMarine) CallService(serviceID, fnName string, args []byte) ([]byte, error) {
	if serviceID != avm.AVMServiceID || fnName != "invoke" {
		return nil, fmt.Errorf("fakeMarine: unexpected call %s.%s", serviceID, fnName)
	}
	var in avm.InvokeArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	f.mu.Lock()
	script := f.script
	f.mu.Unlock()
	result, err := script(in)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (f *fakeMarine) CreateService(wasmBytes []byte, serviceID string) error { return nil }
func (f *fakeMarine) RemoveService(serviceID string)                        {}
func (f *fakeMarine) Stop() error                                            { return nil }

type fakeConn struct {
	relayID string
	ch      chan *particle.Particle
}

func newFakeConn() *fakeConn {
	return &fakeConn{relayID: "relay-peer", ch: make(chan *particle.Particle, 1)}
}

func (f *fakeConn) SendParticle(nextPeerIDs []string, p *particle.Particle) error { return nil }
func (f *fakeConn) Subscribe() <-chan *particle.Particle                         { return f.ch }
func (f *fakeConn) RelayPeerID() string                                         { return f.relayID }
func (f *fakeConn) Stop() error                                                  { return nil }

func newTestPeer(t *testing.T, script func(avm.InvokeArgs) (*avm.InterpreterResult, error)) *Peer {
	t.Helper()
	kp, err := keypair.Generate()
	if err != nil {
		t.Fatalf("keypair.Generate: %v", err)
	}
	marine := &fakeMarine{script: script}
	reg := services.NewRegistry()
	conn := newFakeConn()
	eng := engine.New(kp.PeerID(), kp, marine, reg, conn, nil)
	if err := eng.Start(); err != nil {
		t.Fatalf("engine.Start: %v", err)
	}
	t.Cleanup(func() { eng.Stop() })

	return &Peer{
		cfg:    config.PeerConfig{DefaultTTLMs: 5000},
		kp:     kp,
		marine: marine,
		reg:    reg,
		conn:   conn,
		engine: eng,
	}
}

// TestCallAquaFunctionDeliversLiteralAndResolvesViaResponse covers the full
// getDataSrv → callbackSrv.response path described for non-fire-and-forget
// calls.
func TestCallAquaFunctionDeliversLiteralAndResolvesViaResponse(t *testing.T) {
	var capturedArg json.RawMessage

	script := func(in avm.InvokeArgs) (*avm.InterpreterResult, error) {
		if len(in.CallResults) == 0 {
			return &avm.InterpreterResult{
				RetCode: avm.RetCodeSuccess,
				CallRequests: map[uint32]avm.CallRequest{
					0: {ServiceID: "getDataSrv", FnName: "x"},
				},
			}, nil
		}
		capturedArg = in.CallResults[0].Result
		return &avm.InterpreterResult{
			RetCode: avm.RetCodeSuccess,
			CallRequests: map[uint32]avm.CallRequest{
				0: {ServiceID: "callbackSrv", FnName: "response", Arguments: []json.RawMessage{capturedArg}},
			},
		}, nil
	}

	p := newTestPeer(t, script)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := p.CallAquaFunction(ctx, "(null)", map[string]ArgValue{"x": Literal(42)}, CallOptions{})
	if err != nil {
		t.Fatalf("CallAquaFunction: %v", err)
	}
	if string(res) != "42" {
		t.Fatalf("result = %s, want 42", res)
	}
}

// TestCallAquaFunctionFireAndForgetResolvesOnCompletion covers the
// fire-and-forget path: resolution comes from AVM reporting no further work.
func TestCallAquaFunctionFireAndForgetResolvesOnCompletion(t *testing.T) {
	script := func(in avm.InvokeArgs) (*avm.InterpreterResult, error) {
		return &avm.InterpreterResult{RetCode: avm.RetCodeSuccess}, nil
	}
	p := newTestPeer(t, script)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := p.CallAquaFunction(ctx, "(null)", nil, CallOptions{FireAndForget: true})
	if err != nil {
		t.Fatalf("CallAquaFunction: %v", err)
	}
	if string(res) != "null" {
		t.Fatalf("result = %s, want null", res)
	}
}

// TestCallAquaFunctionErrorHandlingSrvRejects covers errorHandlingSrv.error
// rejecting the call with the AIR-supplied message.
func TestCallAquaFunctionErrorHandlingSrvRejects(t *testing.T) {
	script := func(in avm.InvokeArgs) (*avm.InterpreterResult, error) {
		if len(in.CallResults) == 0 {
			msg, _ := json.Marshal("boom")
			return &avm.InterpreterResult{
				RetCode: avm.RetCodeSuccess,
				CallRequests: map[uint32]avm.CallRequest{
					0: {ServiceID: "errorHandlingSrv", FnName: "error", Arguments: []json.RawMessage{msg}},
				},
			}, nil
		}
		return &avm.InterpreterResult{RetCode: avm.RetCodeSuccess}, nil
	}
	p := newTestPeer(t, script)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := p.CallAquaFunction(ctx, "(null)", nil, CallOptions{})
	if err == nil {
		t.Fatal("expected an error from errorHandlingSrv.error")
	}
	if err.Error() != "boom" {
		t.Fatalf("error = %q, want boom", err.Error())
	}
}

// TestCallAquaFunctionRelayLiteralIsServed covers the reserved
// getDataSrv.-relay- literal.
func TestCallAquaFunctionRelayLiteralIsServed(t *testing.T) {
	var captured string
	script := func(in avm.InvokeArgs) (*avm.InterpreterResult, error) {
		if len(in.CallResults) == 0 {
			return &avm.InterpreterResult{
				RetCode: avm.RetCodeSuccess,
				CallRequests: map[uint32]avm.CallRequest{
					0: {ServiceID: "getDataSrv", FnName: "-relay-"},
				},
			}, nil
		}
		json.Unmarshal(in.CallResults[0].Result, &captured)
		return &avm.InterpreterResult{RetCode: avm.RetCodeSuccess}, nil
	}
	p := newTestPeer(t, script)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := p.CallAquaFunction(ctx, "(null)", nil, CallOptions{FireAndForget: true}); err != nil {
		t.Fatalf("CallAquaFunction: %v", err)
	}
	if captured != "relay-peer" {
		t.Fatalf("relay literal = %q, want relay-peer", captured)
	}
}
