package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerify_RoundTrip(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	token, err := v.Issue(Identity{UserID: "u1", Username: "alice"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "alice", id.Username)
}

func TestIssue_EmptyIdentity(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	_, err := v.Issue(Identity{Username: "alice"})
	assert.ErrorIs(t, err, ErrEmptyIdentity)

	_, err = v.Issue(Identity{UserID: "u1"})
	assert.ErrorIs(t, err, ErrEmptyIdentity)
}

func TestVerify_Expired(t *testing.T) {
	v := NewVerifierTTL([]byte("test-secret"), -time.Minute)

	token, err := v.Issue(Identity{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_WrongSecret(t *testing.T) {
	issuer := NewVerifier([]byte("secret-a"))
	verifier := NewVerifier([]byte("secret-b"))

	token, err := issuer.Issue(Identity{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	for _, token := range []string{"", "not-a-token", "a.b.c", "eyJhbGciOiJub25lIn0.e30."} {
		_, err := v.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q must fail closed", token)
	}
}

func TestVerify_Tampered(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))

	token, err := v.Issue(Identity{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	// Flip the last signature character to break the signature.
	last := byte('A')
	if token[len(token)-1] == last {
		last = 'B'
	}
	tampered := token[:len(token)-1] + string(last)
	_, err = v.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
