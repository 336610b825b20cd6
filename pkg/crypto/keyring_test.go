package crypto

import "testing"

func TestKeyRingRotation(t *testing.T) {
	ring := NewKeyRing()
	s1, _ := NewEd25519Signer("k1")
	ring.AddKey(s1)

	data := []byte("payload-under-k1")
	sig, err := s1.Sign(data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	s2, _ := NewEd25519Signer("k2")
	ring.AddKey(s2)

	active, err := ring.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.KeyID() != "k2" {
		t.Fatalf("expected active key k2, got %s", active.KeyID())
	}

	ok, err := ring.Verify("k1", data, sig)
	if err != nil {
		t.Fatalf("verify rotated-out key: %v", err)
	}
	if !ok {
		t.Fatal("expected old key to still verify its own signatures")
	}

	ring.RevokeKey("k1")
	if _, err := ring.Verify("k1", data, sig); err == nil {
		t.Fatal("expected verification against a revoked key to fail")
	}
}
