package particle

import (
	"testing"
	"time"

	"github.com/fluencelabs/go-client/internal/keypair"
)

func testKeyPair(t *testing.T) *keypair.KeyPair {
	t.Helper()
	kp, err := keypair.Generate()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return kp
}

func TestCreateNewSignsAndRoundTrips(t *testing.T) {
	kp := testKeyPair(t)

	p, err := CreateNew("(null)", kp.PeerID(), 7000, kp)
	if err != nil {
		t.Fatalf("CreateNew: %v", err)
	}

	if p.ID == "" {
		t.Fatal("expected a non-empty particle id")
	}
	if p.InitPeerID != kp.PeerID() {
		t.Fatalf("InitPeerID = %q, want %q", p.InitPeerID, kp.PeerID())
	}
	if !Verify(p, kp.PublicKey()) {
		t.Fatal("expected signature to verify under the signer's public key")
	}
}

func TestCreateNewRejectsMalformedInput(t *testing.T) {
	kp := testKeyPair(t)

	if _, err := CreateNew("", kp.PeerID(), 1000, kp); err == nil {
		t.Fatal("expected error for empty script")
	}
	if _, err := CreateNew("(null)", kp.PeerID(), 0, kp); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestCloneWithNewDataPreservesIdentity(t *testing.T) {
	kp := testKeyPair(t)

	p, err := CreateNew("(null)", kp.PeerID(), 7000, kp)
	if err != nil {
		t.Fatalf("CreateNew: %v", err)
	}

	clone := CloneWithNewData(p, []byte(`{"ok":true}`))

	if clone.ID != p.ID || clone.Timestamp != p.Timestamp || clone.TTL != p.TTL || clone.Script != p.Script {
		t.Fatal("clone must preserve identity fields")
	}
	if string(clone.Signature) != string(p.Signature) {
		t.Fatal("clone must preserve the original signature")
	}
	if string(clone.Data) != `{"ok":true}` {
		t.Fatalf("clone.Data = %q", clone.Data)
	}
	if !Verify(clone, kp.PublicKey()) {
		t.Fatal("clone's signature must still verify (Data is not covered by the signature)")
	}
}

func TestHasExpiredAndGetActualTTL(t *testing.T) {
	kp := testKeyPair(t)

	p, err := CreateNew("(null)", kp.PeerID(), 50, kp)
	if err != nil {
		t.Fatalf("CreateNew: %v", err)
	}

	if HasExpired(p) {
		t.Fatal("freshly created particle should not be expired yet")
	}
	if GetActualTTL(p) <= 0 {
		t.Fatal("expected positive remaining ttl")
	}

	time.Sleep(80 * time.Millisecond)

	if !HasExpired(p) {
		t.Fatal("particle should have expired after sleeping past its ttl")
	}
	if GetActualTTL(p) != 0 {
		t.Fatalf("GetActualTTL after expiry = %v, want 0", GetActualTTL(p))
	}
}
