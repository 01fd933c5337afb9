// Package enroll issues and checks the bearer tokens nodes use to
// authenticate to the control plane.
package enroll

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/VerteraIO/edgefleet/internal/controlplane/stores"
	"github.com/VerteraIO/edgefleet/internal/orcherr"
)

// Token is the live credential of one node.
type Token struct {
	NodeID    string    `json:"node_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Options struct {
	// Secret signs tokens. Empty means a random per-process secret, so tokens
	// do not survive a restart.
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
	Logger zerolog.Logger
}

// Store holds at most one token per node.
type Store struct {
	tokens *stores.Table[Token]
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

func NewStore(opts Options) (*Store, error) {
	if len(opts.Secret) == 0 {
		opts.Secret = make([]byte, 32)
		if _, err := rand.Read(opts.Secret); err != nil {
			return nil, fmt.Errorf("generate signing secret: %w", err)
		}
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		tokens: stores.New[Token](nil),
		secret: opts.Secret,
		ttl:    opts.TTL,
		now:    opts.Now,
		log:    opts.Logger.With().Str("component", "tokens").Logger(),
	}, nil
}

// IssueToken mints a token for nodeID, replacing any previous one.
func (s *Store) IssueToken(nodeID string) (Token, error) {
	if nodeID == "" {
		return Token{}, orcherr.Invalid("node_id", "is required")
	}
	now := s.now().UTC()
	signed, err := IssueToken(s.secret, nodeID, now, s.ttl)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	t := Token{NodeID: nodeID, Token: signed, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}
	s.tokens.Put(nodeID, t)
	s.log.Info().Str("node_id", nodeID).Time("expires_at", t.ExpiresAt).Msg("token issued")
	return t, nil
}

// ValidateToken reports whether token is the current, unexpired token of nodeID.
func (s *Store) ValidateToken(nodeID, token string) bool {
	t, ok := s.tokens.Get(nodeID)
	if !ok {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) != 1 {
		return false
	}
	if s.now().After(t.ExpiresAt) {
		return false
	}
	claims, err := VerifyToken(s.secret, token)
	return err == nil && claims.Subject == nodeID
}

// RevokeToken deletes the token of nodeID and reports whether one existed.
func (s *Store) RevokeToken(nodeID string) bool {
	_, ok := s.tokens.Delete(nodeID)
	if ok {
		s.log.Info().Str("node_id", nodeID).Msg("token revoked")
	}
	return ok
}
