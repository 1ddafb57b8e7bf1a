// Package connection is the relay-only transport: one libp2p host dialed to
// a single upstream relay peer, carrying particles wire-encoded as
// length-prefixed JSON over one stream protocol.
package connection

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/sony/gobreaker"

	"github.com/fluencelabs/go-client/internal/config"
	"github.com/fluencelabs/go-client/internal/keypair"
	"github.com/fluencelabs/go-client/internal/particle"
	"github.com/fluencelabs/go-client/internal/utils"
)

// ParticleProtocol is the stream protocol particles are exchanged over.
const ParticleProtocol protocol.ID = "/fluence/particle/2.0.0"

const maxFrameBytes = 4 << 20 // 4 MiB, generous for a serialized particle

// particleAction is the required "action" discriminator on every wire frame.
const particleAction = "Particle"

// wireEnvelope adds the wire protocol's "action" discriminator around a
// particle's own fields; particle.Particle itself carries no action field
// since it is not part of a particle's signed identity.
type wireEnvelope struct {
	Action string `json:"action"`
	*particle.Particle
}

// Connection is a libp2p-backed relay connection. The only peer it ever
// dials or accepts forwarding destinations for is the configured relay;
// every other route is rejected as unsupported.
type Connection struct {
	cfg    config.PeerConfig
	logger *utils.Logger

	host         host.Host
	relayInfo    *peer.AddrInfo
	relayPeerID  string
	dialTimeout  time.Duration
	checkTimeout time.Duration

	breaker *gobreaker.CircuitBreaker

	dedup *dedup

	out chan *particle.Particle

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// New builds a Connection from configuration, without dialing anything yet.
func New(cfg config.PeerConfig, kp *keypair.KeyPair, logger *utils.Logger) (*Connection, error) {
	if logger == nil {
		logger = utils.DefaultLogger("connection")
	}

	priv, err := libp2pcrypto.UnmarshalEd25519PrivateKey(kp.PrivateKeyBytes())
	if err != nil {
		return nil, fmt.Errorf("derive libp2p identity: %w", err)
	}

	h, err := libp2p.New(libp2p.Identity(priv))
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}

	c := &Connection{
		cfg:          cfg,
		logger:       logger,
		host:         h,
		dialTimeout:  time.Duration(cfg.DialTimeoutMs) * time.Millisecond,
		checkTimeout: time.Duration(cfg.CheckConnectionTimeoutMs) * time.Millisecond,
		dedup:        newDedup(2 * time.Minute),
		out:          make(chan *particle.Particle, 64),
		done:         make(chan struct{}),
	}

	breakerSettings := gobreaker.Settings{
		Name:        "relay-send",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	c.breaker = gobreaker.NewCircuitBreaker(breakerSettings)

	if cfg.RelayMultiaddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.RelayMultiaddr)
		if err != nil {
			return nil, fmt.Errorf("parse relay multiaddr: %w", err)
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("parse relay peer info: %w", err)
		}
		c.relayInfo = info
		c.relayPeerID = info.ID.String()
	}

	h.SetStreamHandler(ParticleProtocol, c.handleStream)
	return c, nil
}

// Start dials the configured relay (if any) and, unless SkipCheckConnection
// is set, probes it for liveness before returning.
func (c *Connection) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.sweepLoop()

	if c.relayInfo == nil {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	if err := c.host.Connect(dialCtx, *c.relayInfo); err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	c.logger.Info("connected to relay", utils.String("relayPeerId", c.relayPeerID))

	if c.cfg.SkipCheckConnection {
		return nil
	}
	checkCtx, cancel2 := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel2()
	if err := c.checkConnection(checkCtx); err != nil {
		return fmt.Errorf("relay liveness check: %w", err)
	}
	return nil
}

// checkConnection opens and immediately closes a stream to the relay,
// confirming the transport is actually usable rather than merely dialed.
func (c *Connection) checkConnection(ctx context.Context) error {
	s, err := c.host.NewStream(ctx, c.relayInfo.ID, ParticleProtocol)
	if err != nil {
		return err
	}
	return s.Close()
}

// Stop tears down the host and stops background goroutines.
func (c *Connection) Stop() error {
	c.stopOnce.Do(func() { close(c.done) })
	c.wg.Wait()
	return c.host.Close()
}

// SupportsRelay reports whether a relay was configured.
func (c *Connection) SupportsRelay() bool { return c.relayInfo != nil }

// RelayPeerID returns the configured relay's peer id, or "" if none.
func (c *Connection) RelayPeerID() string { return c.relayPeerID }

// SendParticle forwards p to nextPeerIDs. Only the configured relay is a
// valid destination: this client never dials arbitrary mesh peers directly.
func (c *Connection) SendParticle(nextPeerIDs []string, p *particle.Particle) error {
	if !c.SupportsRelay() || len(nextPeerIDs) != 1 || nextPeerIDs[0] != c.relayPeerID {
		return utils.UnsupportedRoute(fmt.Sprintf("only the configured relay is a valid forwarding target, got %v", nextPeerIDs))
	}

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.sendToRelay(p)
	})
	if err != nil {
		return utils.SendError(p.ID, err)
	}
	return nil
}

func (c *Connection) sendToRelay(p *particle.Particle) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()

	s, err := c.host.NewStream(ctx, c.relayInfo.ID, ParticleProtocol)
	if err != nil {
		return fmt.Errorf("open stream to relay: %w", err)
	}
	defer s.Close()

	payload, err := json.Marshal(wireEnvelope{Action: particleAction, Particle: p})
	if err != nil {
		return fmt.Errorf("marshal particle: %w", err)
	}
	return writeFrame(s, payload)
}

// Subscribe returns the channel of particles arriving from the relay,
// deduplicated by id.
func (c *Connection) Subscribe() <-chan *particle.Particle { return c.out }

func (c *Connection) handleStream(s network.Stream) {
	defer s.Close()

	r := bufio.NewReader(s)
	for {
		payload, err := readFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.logger.Warn("failed to read particle frame", utils.Err(err))
			}
			return
		}

		env := wireEnvelope{Particle: &particle.Particle{}}
		if err := json.Unmarshal(payload, &env); err != nil {
			c.logger.Warn("dropping malformed particle frame", utils.Err(err))
			continue
		}
		if env.Action != particleAction {
			c.logger.Warn("dropping frame with unexpected action", utils.String("action", env.Action))
			continue
		}
		p := env.Particle

		if c.dedup.seenBefore(p.ID) {
			continue
		}

		select {
		case c.out <- p:
		case <-c.done:
			return
		}
	}
}

func (c *Connection) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.dedup.sweep()
		case <-c.done:
			return
		}
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit %d", n, maxFrameBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
