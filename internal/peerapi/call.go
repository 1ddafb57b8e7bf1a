package peerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fluencelabs/go-client/internal/avm"
)

// ArgValue is one entry of CallAquaFunction's args map: either a literal
// JSON-marshalable value, served to AIR via getDataSrv.<name>, or a
// Callback, served via callbackSrv.<name>.
type ArgValue struct {
	Literal  interface{}
	Callback func(args []json.RawMessage) (json.RawMessage, error)
}

// Literal wraps a plain value as an ArgValue.
func Literal(v interface{}) ArgValue { return ArgValue{Literal: v} }

// Callback wraps a function as an ArgValue.
func Callback(fn func(args []json.RawMessage) (json.RawMessage, error)) ArgValue {
	return ArgValue{Callback: fn}
}

// CallOptions configures one CallAquaFunction invocation.
type CallOptions struct {
	// TTL overrides the peer's default particle TTL, in milliseconds.
	TTL uint32
	// FireAndForget skips registering the response callback: the call
	// resolves as soon as AVM reports no further work, with no result value.
	FireAndForget bool
}

type callResult struct {
	value json.RawMessage
	err   error
}

// CallAquaFunction creates a new particle for script, wires the
// getDataSrv/callbackSrv scaffolding args describes around it, and awaits
// completion or ctx cancellation.
func (p *Peer) CallAquaFunction(ctx context.Context, script string, args map[string]ArgValue, opts CallOptions) (json.RawMessage, error) {
	part, err := p.CreateNewParticle(script, opts.TTL)
	if err != nil {
		return nil, fmt.Errorf("create particle: %w", err)
	}

	resultCh := make(chan callResult, 1)
	var once sync.Once
	resolve := func(v json.RawMessage) { once.Do(func() { resultCh <- callResult{value: v} }) }
	reject := func(err error) { once.Do(func() { resultCh <- callResult{err: err} }) }

	for name, value := range args {
		name, value := name, value
		if value.Callback != nil {
			p.reg.RegisterParticleScopeHandler(part.ID, "callbackSrv", name, func(req avm.CallServiceData) (json.RawMessage, error) {
				return value.Callback(req.Args)
			})
			continue
		}
		literal, err := json.Marshal(value.Literal)
		if err != nil {
			return nil, fmt.Errorf("marshal literal arg %q: %w", name, err)
		}
		p.reg.RegisterParticleScopeHandler(part.ID, "getDataSrv", name, func(req avm.CallServiceData) (json.RawMessage, error) {
			return literal, nil
		})
	}

	if !opts.FireAndForget {
		p.reg.RegisterParticleScopeHandler(part.ID, "callbackSrv", "response", func(req avm.CallServiceData) (json.RawMessage, error) {
			var v json.RawMessage
			if len(req.Args) > 0 {
				v = req.Args[0]
			}
			resolve(v)
			return json.RawMessage("null"), nil
		})
	}

	p.reg.RegisterParticleScopeHandler(part.ID, "errorHandlingSrv", "error", func(req avm.CallServiceData) (json.RawMessage, error) {
		msg := "air-reported error"
		if len(req.Args) > 0 {
			var s string
			if err := json.Unmarshal(req.Args[0], &s); err == nil {
				msg = s
			}
		}
		reject(fmt.Errorf("%s", msg))
		return json.RawMessage("null"), nil
	})

	p.reg.RegisterParticleScopeHandler(part.ID, "getDataSrv", "-relay-", func(req avm.CallServiceData) (json.RawMessage, error) {
		return json.Marshal(p.conn.RelayPeerID())
	})

	p.engine.InitiateParticle(part, func(v json.RawMessage) { resolve(v) }, reject)

	select {
	case res := <-resultCh:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
