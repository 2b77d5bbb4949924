// Package structhash provides deterministic identity and structural hashing
// for event payloads and idempotency parameters.
//
// Structural hashes are computed over an RFC 8785 (JCS) canonicalization of
// the value's JSON form, so logically identical values hash identically
// regardless of map iteration order or key insertion order. The hash itself
// is DJB2: this is a correctness check for idempotent writes, not a security
// boundary, so cryptographic strength is deliberately not required.
package structhash

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

// NewEventID returns a globally unique event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// Canonicalize marshals v to JSON and transforms it into RFC 8785 canonical
// form (object keys sorted recursively, normalized number formatting).
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return canonical, nil
}

// Hash returns the structural hash of v as a hex-like decimal string.
// Two values with equal canonical JSON forms always produce equal hashes.
func Hash(v any) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", djb2(canonical)), nil
}

// djb2 computes the classic DJB2 streaming string hash over b.
func djb2(b []byte) uint32 {
	var h uint32 = 5381
	for _, c := range b {
		h = h*33 + uint32(c)
	}
	return h
}
