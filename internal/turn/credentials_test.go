package turn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssuer(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	i := NewIssuer("shared", time.Hour)
	i.nowFn = func() time.Time { return now }

	creds := i.Issue("alice")
	assert.Equal(t, "1700003600:alice", creds.Username)
	assert.Equal(t, time.Hour, creds.TTL)

	password, ok := i.Password(creds.Username)
	require.True(t, ok)
	assert.Equal(t, creds.Password, password)

	other := NewIssuer("different", time.Hour)
	other.nowFn = i.nowFn
	otherPassword, ok := other.Password(creds.Username)
	require.True(t, ok)
	assert.NotEqual(t, creds.Password, otherPassword)

	now = now.Add(2 * time.Hour)
	_, ok = i.Password(creds.Username)
	assert.False(t, ok)

	_, ok = i.Password("alice")
	assert.False(t, ok)
	_, ok = i.Password("soon:alice")
	assert.False(t, ok)
}

func TestIssuerDefaultTTL(t *testing.T) {
	i := NewIssuer("shared", 0)
	assert.Equal(t, defaultCredentialTTL, i.Issue("bob").TTL)
}
