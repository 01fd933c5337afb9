// Package security is the credential manager: node tokens, node certificates
// and caller authentication.
package security

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/VerteraIO/edgefleet/internal/orcherr"
	"github.com/VerteraIO/edgefleet/internal/security/enroll"
	"github.com/VerteraIO/edgefleet/internal/security/pki"
)

type Options struct {
	SigningSecret  []byte
	TokenTTL       time.Duration
	CertificateTTL time.Duration
	RSAKeyBits     int
	Organization   string
	// AdminID and AdminToken form an operator credential accepted
	// everywhere a node credential is. An empty AdminToken disables it.
	AdminID    string
	AdminToken string
	Now        func() time.Time
	Logger     zerolog.Logger
}

type Manager struct {
	Tokens       *enroll.Store
	Certificates *pki.Store

	adminID    string
	adminToken string
	log        zerolog.Logger
}

func NewManager(opts Options) (*Manager, error) {
	tokens, err := enroll.NewStore(enroll.Options{
		Secret: opts.SigningSecret,
		TTL:    opts.TokenTTL,
		Now:    opts.Now,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("token store: %w", err)
	}
	return &Manager{
		Tokens: tokens,
		Certificates: pki.NewStore(pki.StoreOptions{
			Validity:     opts.CertificateTTL,
			KeyBits:      opts.RSAKeyBits,
			Organization: opts.Organization,
			Now:          opts.Now,
			Logger:       opts.Logger,
		}),
		adminID:    opts.AdminID,
		adminToken: opts.AdminToken,
		log:        opts.Logger.With().Str("component", "auth").Logger(),
	}, nil
}

// IsAdmin reports whether callerID names the configured operator identity.
func (m *Manager) IsAdmin(callerID string) bool {
	return m.adminToken != "" && callerID == m.adminID
}

// Authenticate checks a caller identity and bearer token. It returns an
// error wrapping orcherr.ErrAuth when the credential is missing or invalid.
func (m *Manager) Authenticate(callerID, token string) error {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" || token == "" {
		return fmt.Errorf("missing caller credentials: %w", orcherr.ErrAuth)
	}
	if m.IsAdmin(callerID) {
		if subtle.ConstantTimeCompare([]byte(token), []byte(m.adminToken)) == 1 {
			return nil
		}
		m.log.Warn().Str("caller", callerID).Msg("rejected admin credential")
		return fmt.Errorf("invalid admin token: %w", orcherr.ErrAuth)
	}
	if !m.Tokens.ValidateToken(callerID, token) {
		m.log.Debug().Str("caller", callerID).Msg("rejected node token")
		return fmt.Errorf("invalid or expired token for %q: %w", callerID, orcherr.ErrAuth)
	}
	return nil
}
