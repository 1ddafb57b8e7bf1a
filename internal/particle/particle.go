// Package particle implements the immutable Particle value: signing,
// cloning, and TTL arithmetic.
package particle

import (
	"encoding/binary"
	"time"

	"github.com/fluencelabs/go-client/internal/keypair"
	"github.com/fluencelabs/go-client/internal/utils"
)

// Particle is an immutable, signed, TTL-bounded execution unit.
//
// Particles are never mutated in place; CloneWithNewData produces a new
// value sharing every identity field and the original signature.
//
// Field tags match the wire envelope exchanged on the particle stream
// protocol: {"action":"Particle","id",...,"signature","data"}, with
// signature and data base64 per encoding/json's default []byte handling.
type Particle struct {
	ID         string `json:"id"`
	InitPeerID string `json:"init_peer_id"`
	Timestamp  uint64 `json:"timestamp"` // ms since epoch
	TTL        uint32 `json:"ttl"`       // ms
	Script     string `json:"script"`
	Data       []byte `json:"data"`
	Signature  []byte `json:"signature"`
}

// CreateNew assigns a fresh UUIDv4 id, stamps the current time, and signs
// the particle under kp's identity.
func CreateNew(script, initPeerID string, ttl uint32, kp *keypair.KeyPair) (*Particle, error) {
	if script == "" {
		return nil, utils.InvalidParticleSpec("script must not be empty")
	}
	if ttl == 0 {
		return nil, utils.InvalidParticleSpec("ttl must be non-zero")
	}

	p := &Particle{
		ID:         utils.NewParticleID(),
		InitPeerID: initPeerID,
		Timestamp:  uint64(time.Now().UnixMilli()),
		TTL:        ttl,
		Script:     script,
		Data:       []byte("{}"),
	}
	p.Signature = kp.SignBytes(signingPayload(p))
	return p, nil
}

// signingPayload builds the canonical encoding that is signed and verified:
// id || be64(timestamp) || be32(ttl) || script_utf8.
func signingPayload(p *Particle) []byte {
	buf := make([]byte, 0, len(p.ID)+8+4+len(p.Script))
	buf = append(buf, p.ID...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], p.Timestamp)
	buf = append(buf, ts[:]...)
	var ttl [4]byte
	binary.BigEndian.PutUint32(ttl[:], p.TTL)
	buf = append(buf, ttl[:]...)
	buf = append(buf, p.Script...)
	return buf
}

// Verify checks that p.Signature is a valid signature over p's identity
// fields under the given public key.
func Verify(p *Particle, pub []byte) bool {
	return keypair.Verify(pub, signingPayload(p), p.Signature)
}

// CloneWithNewData returns a new particle identical to p except for Data.
// Identity fields and the signature are preserved untouched.
func CloneWithNewData(p *Particle, data []byte) *Particle {
	clone := *p
	clone.Data = data
	return &clone
}

// HasExpired reports whether p's TTL has elapsed as of now.
func HasExpired(p *Particle) bool {
	return uint64(time.Now().UnixMilli()) > p.Timestamp+uint64(p.TTL)
}

// GetActualTTL returns the remaining ms until expiration; zero or negative
// values are clamped to zero.
func GetActualTTL(p *Particle) time.Duration {
	deadline := p.Timestamp + uint64(p.TTL)
	now := uint64(time.Now().UnixMilli())
	if now >= deadline {
		return 0
	}
	return time.Duration(deadline-now) * time.Millisecond
}
