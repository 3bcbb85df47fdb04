package ir

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionIDDeterminism(t *testing.T) {
	id1, err := ActionID("replica-a", []string{"p1"}, 7)
	require.NoError(t, err)
	id2, err := ActionID("replica-a", []string{"p1"}, 7)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
	_, err = hex.DecodeString(id1)
	assert.NoError(t, err)
}

func TestActionIDChangesWithInput(t *testing.T) {
	base := MustActionID("replica-a", []string{"p1"}, 1)

	assert.NotEqual(t, base, MustActionID("replica-b", []string{"p1"}, 1), "replica")
	assert.NotEqual(t, base, MustActionID("replica-a", []string{"p2"}, 1), "parent")
	assert.NotEqual(t, base, MustActionID("replica-a", []string{"p1"}, 2), "seq")
	assert.NotEqual(t, base, MustActionID("replica-a", []string{"p1", "p2"}, 1), "extra parent")
}

func TestDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t, hashWithDomain(DomainAction, data), hashWithDomain(DomainPayload, data))
}

func TestPayloadHash(t *testing.T) {
	a, err := PayloadHash(IRObject{"x": IRInt(1), "y": IRInt(2)})
	require.NoError(t, err)
	b, err := PayloadHash(IRObject{"y": IRInt(2), "x": IRInt(1)})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = PayloadHash(IRNull{})
	assert.Error(t, err)
}
