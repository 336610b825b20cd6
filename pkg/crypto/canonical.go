// Package crypto provides the signing, verification, and canonicalization
// primitives behind Vorion's proof chain: Ed25519 signatures (with an
// ECDSA P-256 fallback) over RFC 8785 canonical JSON.
package crypto

import (
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalMarshal renders v as RFC 8785 JSON Canonicalization Scheme
// bytes: sorted object keys, no insignificant whitespace, no HTML
// escaping. Every proof-chain hash and signature payload in this module
// is computed over this representation so that the same logical value
// always hashes identically regardless of struct field order or prior
// marshaling history.
func CanonicalMarshal(v interface{}) ([]byte, error) {
	out, err := jcs.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encoding failed: %w", err)
	}
	return out, nil
}

// Signature separators and algorithm prefixes used when stamping a
// ProofRecord's SignatureAlgo field.
const (
	SigSeparator  = ":"
	AlgoEd25519   = "ed25519"
	AlgoECDSAP256 = "ecdsa-p256"
)
