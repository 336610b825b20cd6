package crypto

import (
	"fmt"
	"sort"
	"sync"
)

// KeyRing holds multiple signers keyed by KeyID, supporting rotation:
// new proofs sign with the active key while old keys remain available
// for verifying historical proofs.
type KeyRing struct {
	mu       sync.RWMutex
	signers  map[string]Signer
	activeID string
}

func NewKeyRing() *KeyRing {
	return &KeyRing{signers: make(map[string]Signer)}
}

// AddKey registers a signer and marks it active.
func (k *KeyRing) AddKey(s Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[s.KeyID()] = s
	k.activeID = s.KeyID()
}

// RevokeKey removes a key from the ring by ID.
func (k *KeyRing) RevokeKey(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.signers, keyID)
	if k.activeID == keyID {
		k.activeID = k.latestKeyIDLocked()
	}
}

func (k *KeyRing) latestKeyIDLocked() string {
	var ids []string
	for id := range k.signers {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Strings(ids)
	return ids[len(ids)-1]
}

// Active returns the signer currently used for new signatures.
func (k *KeyRing) Active() (Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[k.activeID]
	if !ok {
		return nil, fmt.Errorf("keyring: no active signing key")
	}
	return s, nil
}

// Verify checks data against a signature produced by a specific key ID,
// regardless of whether that key is still active.
func (k *KeyRing) Verify(keyID string, data []byte, sigHex string) (bool, error) {
	k.mu.RLock()
	s, ok := k.signers[keyID]
	k.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("keyring: unknown key %q", keyID)
	}
	return s.Verify(data, sigHex)
}
