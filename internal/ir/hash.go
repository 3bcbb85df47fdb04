package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for changing the hashed fields later.
const (
	DomainAction  = "avcs/action/v1"
	DomainPayload = "avcs/payload/v1"
)

// hashWithDomain computes SHA-256 over domain + 0x00 + data, hex encoded.
// The null byte keeps the domain/data boundary unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ActionID derives an action id from the replica that created it, the
// action's parent ids and the replica's logical sequence number.
//
// Two replicas only collide if they share a replica name, so replica names
// must be unique among peers that sync.
func ActionID(replica string, parents []string, seq int64) (string, error) {
	parentVals := make(IRArray, len(parents))
	for i, p := range parents {
		parentVals[i] = IRString(p)
	}
	obj := IRObject{
		"replica": IRString(replica),
		"parents": parentVals,
		"seq":     IRInt(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ActionID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainAction, canonical), nil
}

// PayloadHash hashes an arbitrary value. avcs show --hash prints it so two
// replicas can compare documents without shipping them around.
func PayloadHash(v IRValue) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("PayloadHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// MustActionID is like ActionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustActionID(replica string, parents []string, seq int64) string {
	id, err := ActionID(replica, parents, seq)
	if err != nil {
		panic(err)
	}
	return id
}
