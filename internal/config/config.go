// Package config defines the peer-wide configuration surface.
package config

// DebugConfig holds developer-facing toggles.
type DebugConfig struct {
	PrintParticleID bool
}

// PeerConfig is the process-wide configuration of one engine instance.
type PeerConfig struct {
	// DefaultTTLMs is the TTL (ms) assigned to particles created without an
	// explicit override. Default: 7000.
	DefaultTTLMs uint32

	Debug DebugConfig

	// RelayMultiaddr is the libp2p multiaddr of the upstream relay peer,
	// e.g. "/dns4/relay.fluence.dev/tcp/7001/p2p/12D3KooW...".
	RelayMultiaddr string

	// DialTimeoutMs bounds dialing the relay. Default: 7000.
	DialTimeoutMs uint32

	// CheckConnectionTimeoutMs bounds the post-dial liveness probe. Default: 15000.
	CheckConnectionTimeoutMs uint32

	// SkipCheckConnection disables the liveness probe entirely.
	SkipCheckConnection bool

	// KeyPairSeed, if non-nil, must be exactly 32 bytes and pins the peer's
	// Ed25519 identity (used by tests for deterministic peer ids).
	KeyPairSeed []byte

	// AVMWasmPath is the filesystem path of the compiled AIR interpreter
	// module, loaded into Marine as the mandatory "avm" service. Required:
	// peerapi.Start fails without it.
	AVMWasmPath string
}

// DefaultPeerConfig returns the standard out-of-the-box peer configuration.
func DefaultPeerConfig() PeerConfig {
	return PeerConfig{
		DefaultTTLMs:             7000,
		Debug:                    DebugConfig{PrintParticleID: false},
		DialTimeoutMs:            7000,
		CheckConnectionTimeoutMs: 15000,
		SkipCheckConnection:      false,
	}
}
