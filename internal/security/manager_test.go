package security

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VerteraIO/edgefleet/internal/orcherr"
)

func TestAuthenticate(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := NewManager(Options{
		SigningSecret: []byte("secret"),
		TokenTTL:      time.Hour,
		AdminID:       "admin",
		AdminToken:    "root-token",
		Now:           func() time.Time { return now },
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)

	tok, err := m.Tokens.IssueToken("node-1")
	require.NoError(t, err)

	assert.NoError(t, m.Authenticate("node-1", tok.Token))
	assert.NoError(t, m.Authenticate("admin", "root-token"))

	for name, c := range map[string][2]string{
		"missing id":    {"", tok.Token},
		"missing token": {"node-1", ""},
		"wrong node":    {"node-2", tok.Token},
		"wrong admin":   {"admin", "guess"},
	} {
		err := m.Authenticate(c[0], c[1])
		assert.True(t, errors.Is(err, orcherr.ErrAuth), name)
	}

	now = now.Add(2 * time.Hour)
	assert.True(t, errors.Is(m.Authenticate("node-1", tok.Token), orcherr.ErrAuth))
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	m, err := NewManager(Options{AdminID: "admin", Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.False(t, m.IsAdmin("admin"))
	assert.Error(t, m.Authenticate("admin", "anything"))
}
