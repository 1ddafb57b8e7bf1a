// Package peerapi assembles a complete client peer — identity, Marine,
// service registry, relay connection, and the execution engine — behind the
// single operation a caller actually wants: run an Aqua script and get its
// result back.
package peerapi

import (
	"context"
	"fmt"
	"os"

	"github.com/fluencelabs/go-client/internal/avm"
	"github.com/fluencelabs/go-client/internal/builtins"
	"github.com/fluencelabs/go-client/internal/config"
	"github.com/fluencelabs/go-client/internal/connection"
	"github.com/fluencelabs/go-client/internal/engine"
	"github.com/fluencelabs/go-client/internal/keypair"
	"github.com/fluencelabs/go-client/internal/marine"
	"github.com/fluencelabs/go-client/internal/particle"
	"github.com/fluencelabs/go-client/internal/services"
	"github.com/fluencelabs/go-client/internal/utils"
)

// marineHost is the subset of marine.Host peerapi and builtins depend on.
type marineHost interface {
	engine.MarineCaller
	builtins.MarineServices
	Stop() error
}

// relayConnection is the subset of connection.Connection peerapi and the
// engine depend on.
type relayConnection interface {
	engine.Connection
	RelayPeerID() string
	Stop() error
}

// Peer is one running client: an identity, a Marine host, the JS-style
// service registry, a relay connection, and the execution engine wired
// together.
type Peer struct {
	cfg    config.PeerConfig
	kp     *keypair.KeyPair
	marine marineHost
	reg    *services.Registry
	conn   relayConnection
	engine *engine.Engine
	logger *utils.Logger
}

// Start constructs and starts every subsystem: Marine, the relay connection,
// the engine, and the built-in sig/srv/tracing services.
func Start(ctx context.Context, cfg config.PeerConfig, logger *utils.Logger) (*Peer, error) {
	if logger == nil {
		logger = utils.DefaultLogger("peer")
	}

	var kp *keypair.KeyPair
	var err error
	if cfg.KeyPairSeed != nil {
		kp, err = keypair.FromSeed(cfg.KeyPairSeed)
	} else {
		kp, err = keypair.Generate()
	}
	if err != nil {
		return nil, fmt.Errorf("build keypair: %w", err)
	}

	if cfg.AVMWasmPath == "" {
		return nil, fmt.Errorf("build peer: AVMWasmPath is required to load the avm service")
	}
	avmWasm, err := os.ReadFile(cfg.AVMWasmPath)
	if err != nil {
		return nil, fmt.Errorf("read avm wasm module %q: %w", cfg.AVMWasmPath, err)
	}

	host := marine.NewHost(logger.Named("marine"))
	if err := host.Start(); err != nil {
		return nil, fmt.Errorf("start marine host: %w", err)
	}
	if err := host.CreateService(avmWasm, avm.AVMServiceID); err != nil {
		host.Stop()
		return nil, fmt.Errorf("register avm service: %w", err)
	}

	reg := services.NewRegistry()
	builtins.RegisterSig(reg, kp)
	builtins.RegisterSrv(reg, host)
	builtins.RegisterTracing(reg, logger)

	conn, err := connection.New(cfg, kp, logger.Named("connection"))
	if err != nil {
		host.Stop()
		return nil, fmt.Errorf("build connection: %w", err)
	}
	if err := conn.Start(ctx); err != nil {
		host.Stop()
		return nil, fmt.Errorf("start connection: %w", err)
	}

	eng := engine.New(kp.PeerID(), kp, host, reg, conn, logger.Named("engine"))
	if err := eng.Start(); err != nil {
		conn.Stop()
		host.Stop()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	p := &Peer{
		cfg:    cfg,
		kp:     kp,
		marine: host,
		reg:    reg,
		conn:   conn,
		engine: eng,
		logger: logger,
	}

	return p, nil
}

// PeerID returns this peer's base58 identity.
func (p *Peer) PeerID() string { return p.kp.PeerID() }

// Stop tears every subsystem down, engine first so no more AVM invocations
// are attempted once Marine and the connection go away.
func (p *Peer) Stop() error {
	if err := p.engine.Stop(); err != nil {
		p.logger.Warn("engine stop reported an error", utils.Err(err))
	}
	if err := p.conn.Stop(); err != nil {
		p.logger.Warn("connection stop reported an error", utils.Err(err))
	}
	return p.marine.Stop()
}

// CreateNewParticle builds a new signed particle for script, using ttlMs or
// the peer's configured default if ttlMs is 0.
func (p *Peer) CreateNewParticle(script string, ttlMs uint32) (*particle.Particle, error) {
	if ttlMs == 0 {
		ttlMs = p.cfg.DefaultTTLMs
	}
	return particle.CreateNew(script, p.kp.PeerID(), ttlMs, p.kp)
}
