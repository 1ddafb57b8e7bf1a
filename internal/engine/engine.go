// Package engine is the particle execution pipeline: queueing,
// signature-grouped serialization, AVM invocation, call-request dispatch,
// forwarding, and TTL enforcement.
package engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/fluencelabs/go-client/internal/avm"
	"github.com/fluencelabs/go-client/internal/keypair"
	"github.com/fluencelabs/go-client/internal/particle"
	"github.com/fluencelabs/go-client/internal/services"
	"github.com/fluencelabs/go-client/internal/utils"
)

// Engine drives particles through repeated AVM invocations until AVM
// reports no further work.
type Engine struct {
	selfPeerID string
	kp         *keypair.KeyPair
	marine     MarineCaller
	jsHost     ServiceCaller
	conn       Connection
	logger     *utils.Logger

	groups sync.Map // string(signature) -> *group

	initialized atomic.Bool

	wg      errgroup.Group
	stopOne sync.Once
	done    chan struct{}
}

// New constructs an unstarted engine.
func New(selfPeerID string, kp *keypair.KeyPair, marine MarineCaller, jsHost ServiceCaller, conn Connection, logger *utils.Logger) *Engine {
	if logger == nil {
		logger = utils.DefaultLogger("engine")
	}
	return &Engine{
		selfPeerID: selfPeerID,
		kp:         kp,
		marine:     marine,
		jsHost:     jsHost,
		conn:       conn,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// noopSuccess and noopError are the completion callbacks for particles that
// arrive from the network rather than from InitiateParticle: nobody is
// awaiting their result, so completion is a no-op rather than a nil call.
func noopSuccess(json.RawMessage) {}
func noopError(error)            {}

// Start subscribes to the connection's particle source (every arriving
// particle enqueued with no-op callbacks) and flips the engine live.
func (e *Engine) Start() error {
	e.initialized.Store(true)
	sub := e.conn.Subscribe()
	e.wg.Go(func() error {
		for {
			select {
			case p, ok := <-sub:
				if !ok {
					return nil
				}
				e.enqueue(&queueItem{particle: p, onSuccess: noopSuccess, onError: noopError})
			case <-e.done:
				return nil
			}
		}
	})
	e.logger.Info("engine started", utils.String("selfPeerId", e.selfPeerID))
	return nil
}

// Stop flips the engine dark; in-flight pipeline stages observing
// !isInitialized short-circuit.
func (e *Engine) Stop() error {
	e.stopOne.Do(func() {
		e.initialized.Store(false)
		close(e.done)
	})
	return e.wg.Wait()
}

// InitiateParticle enqueues p for processing. Exactly one of onSuccess /
// onError fires, at most once, before TTL expiration.
func (e *Engine) InitiateParticle(p *particle.Particle, onSuccess func(json.RawMessage), onError func(error)) {
	var once sync.Once
	guardedSuccess := func(v json.RawMessage) {
		once.Do(func() {
			if onSuccess != nil {
				onSuccess(v)
			}
		})
	}
	guardedError := func(err error) {
		once.Do(func() {
			if onError != nil {
				onError(err)
			}
		})
	}
	e.enqueue(&queueItem{particle: p, onSuccess: guardedSuccess, onError: guardedError})
}

func sigKey(p *particle.Particle) string {
	return base64.StdEncoding.EncodeToString(p.Signature)
}

// enqueue is stage 1-3 of the pipeline: trace, expiration filter, then hand
// the item to its signature group's serial worker.
func (e *Engine) enqueue(item *queueItem) {
	e.logger.Debug("received particle",
		utils.String("particleId", item.particle.ID),
		utils.Uint64("timestamp", item.particle.Timestamp))

	if particle.HasExpired(item.particle) {
		e.onExpireParticle(item)
		return
	}

	key := sigKey(item.particle)
	v, loaded := e.groups.LoadOrStore(key, newGroup(key, e.logger.Named("group").With(utils.String("signature", key))))
	g := v.(*group)

	g.arm(item.particle, func() { e.onExpireParticle(item) })

	if !loaded {
		e.wg.Go(func() error {
			e.runGroup(g)
			return nil
		})
	}

	select {
	case g.ch <- item:
	case <-e.done:
	}
}

// runGroup is stage 4: strictly serial AVM invocation for every item of one
// signature group, in FIFO order. It exits once the engine is stopped.
func (e *Engine) runGroup(g *group) {
	for {
		select {
		case item := <-g.ch:
			if !e.initialized.Load() {
				continue
			}
			e.processItem(g, item)
		case <-e.done:
			return
		}
	}
}

// processItem runs one item through invocation, the re-filter, and dispatch.
func (e *Engine) processItem(g *group, item *queueItem) {
	p := item.particle

	args := avm.InvokeArgs{
		InitPeerID:     p.InitPeerID,
		CurrentPeerID:  e.selfPeerID,
		Timestamp:      p.Timestamp,
		TTL:            p.TTL,
		KeyFormat:      "Ed25519",
		ParticleID:     p.ID,
		SecretKeyBytes: e.kp.ToEd25519PrivateKey(),
		Script:         p.Script,
		PrevData:       g.readPrevData(),
		CurrentData:    p.Data,
		CallResults:    item.callResults,
	}

	serialized, err := avm.SerializeInvokeArgs(args)
	if err != nil {
		item.onError(utils.InterpreterError(p.ID, fmt.Sprintf("failed to serialize avm args: %v", err)))
		return
	}

	raw, invokeErr := e.marine.CallService(avm.AVMServiceID, "invoke", serialized)
	if invokeErr != nil {
		item.onError(utils.InterpreterError(p.ID, invokeErr.Error()))
		return
	}

	result, err := avm.DeserializeInterpreterResult(raw)
	if err != nil {
		item.onError(utils.InterpreterError(p.ID, fmt.Sprintf("failed to deserialize avm result: %v", err)))
		return
	}

	// Critical section invariant: prevData advances only on retCode==0,
	// regardless of what the expiration re-filter below decides.
	if result.RetCode == avm.RetCodeSuccess {
		g.commitPrevData(result.Data)
	}

	// Stage 5: expiration re-filter — a long AVM call can push a particle
	// past its TTL.
	if particle.HasExpired(p) {
		e.onExpireParticle(item)
		return
	}

	e.dispatch(g, item, result)
}

// dispatch is stage 6: forward, fan out call requests, and resolve
// fire-and-forget completion.
func (e *Engine) dispatch(g *group, item *queueItem, result *avm.InterpreterResult) {
	p := item.particle

	if result.RetCode != avm.RetCodeSuccess {
		item.onError(utils.InterpreterError(p.ID, result.ErrorMessage))
		e.jsHost.RemoveParticleScopeHandlers(p.ID)
		return
	}

	if len(result.NextPeerPks) > 0 {
		forwarded := particle.CloneWithNewData(p, result.Data)
		if err := e.conn.SendParticle(result.NextPeerPks, forwarded); err != nil {
			item.onError(utils.SendError(p.ID, err))
			return
		}
		e.logger.Debug("forwarded particle", utils.String("particleId", p.ID), utils.Any("nextPeers", result.NextPeerPks))
	}

	if len(result.CallRequests) == 0 {
		// Fire-and-forget resolves once AVM has no further work and the
		// particle has already been sent onward (if any).
		item.onSuccess(json.RawMessage("null"))
		g.stopTimer()
		e.jsHost.RemoveParticleScopeHandlers(p.ID)
		return
	}

	for key, callReq := range result.CallRequests {
		key, callReq := key, callReq
		e.wg.Go(func() error {
			e.handleCallRequest(item, key, callReq, result)
			return nil
		})
	}
}

func (e *Engine) handleCallRequest(item *queueItem, key uint32, callReq avm.CallRequest, result *avm.InterpreterResult) {
	p := item.particle

	pCtx := avm.ParticleContext{
		ParticleID: p.ID,
		InitPeerID: p.InitPeerID,
		Timestamp:  p.Timestamp,
		TTL:        p.TTL,
		Signature:  p.Signature,
		Tetraplets: callReq.Tetraplets,
	}
	req := avm.CallServiceData{
		ServiceID:       callReq.ServiceID,
		FnName:          callReq.FnName,
		Args:            callReq.Arguments,
		Tetraplets:      callReq.Tetraplets,
		ParticleContext: pCtx,
	}

	callResult := e.execSingleCallRequest(req)

	if callReq.ServiceID == "callbackSrv" && callReq.FnName == "response" {
		// The particle is considered complete: its result was already
		// delivered to the awaiter by the registered callbackSrv.response
		// handler, so no re-enqueue occurs.
		return
	}

	next := particle.CloneWithNewData(p, []byte("{}"))
	e.enqueue(&queueItem{
		particle:    next,
		callResults: map[uint32]avm.CallServiceResult{key: callResult},
		onSuccess:   item.onSuccess,
		onError:     item.onError,
	})
}

// execSingleCallRequest resolves a call request against Marine first, then
// falls back to the JS-style service host.
func (e *Engine) execSingleCallRequest(req avm.CallServiceData) avm.CallServiceResult {
	if e.marine.HasService(req.ServiceID) {
		argsBytes, err := json.Marshal(req.Args)
		if err != nil {
			return avm.Fail(fmt.Sprintf("Service call failed. fnName=%s serviceId=%s error: %v", req.FnName, req.ServiceID, err))
		}
		out, err := e.marine.CallService(req.ServiceID, req.FnName, argsBytes)
		if err != nil {
			return avm.Fail(fmt.Sprintf("Service call failed. fnName=%s serviceId=%s error: %v", req.FnName, req.ServiceID, err))
		}
		if len(out) == 0 {
			out = []byte("null")
		}
		return avm.OK(json.RawMessage(out))
	}

	if result, ok := e.jsHost.CallService(req); ok {
		return result
	}

	return avm.Fail(services.NoServiceFoundError(req))
}

// onExpireParticle terminates an item's lineage: it fires onError and drops
// the item's per-particle service handlers.
func (e *Engine) onExpireParticle(item *queueItem) {
	item.onError(utils.ExpirationError(item.particle.ID))
	e.jsHost.RemoveParticleScopeHandlers(item.particle.ID)
}
