package pki

import (
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/VerteraIO/edgefleet/internal/controlplane/stores"
	"github.com/VerteraIO/edgefleet/internal/orcherr"
)

// Certificate is an issued node certificate with its private key.
type Certificate struct {
	ID          string    `json:"id"`
	NodeID      string    `json:"node_id"`
	CommonName  string    `json:"common_name"`
	Serial      string    `json:"serial"`
	Certificate string    `json:"certificate"`
	PrivateKey  string    `json:"private_key"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type IssueRequest struct {
	NodeID      string   `json:"node_id"`
	CommonName  string   `json:"common_name"`
	DNSNames    []string `json:"dns_names"`
	IPAddresses []string `json:"ip_addresses"`
}

type StoreOptions struct {
	Validity     time.Duration
	KeyBits      int
	Organization string
	Now          func() time.Time
	Logger       zerolog.Logger
}

// Store keeps issued certificates. Revoking only forgets the record: no
// revocation list is published, so a holder can keep presenting a revoked
// certificate until it expires.
type Store struct {
	certs    *stores.Table[Certificate]
	validity time.Duration
	keyBits  int
	org      string
	now      func() time.Time
	log      zerolog.Logger
}

func NewStore(opts StoreOptions) *Store {
	if opts.Validity <= 0 {
		opts.Validity = 365 * 24 * time.Hour
	}
	if opts.KeyBits == 0 {
		opts.KeyBits = 2048
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		certs:    stores.New[Certificate](nil),
		validity: opts.Validity,
		keyBits:  opts.KeyBits,
		org:      opts.Organization,
		now:      opts.Now,
		log:      opts.Logger.With().Str("component", "certificates").Logger(),
	}
}

// Issue generates a self-signed certificate for the node and stores it under
// a fresh id.
func (s *Store) Issue(req IssueRequest) (Certificate, error) {
	if strings.TrimSpace(req.NodeID) == "" {
		return Certificate{}, orcherr.Invalid("node_id", "is required")
	}
	if strings.TrimSpace(req.CommonName) == "" {
		return Certificate{}, orcherr.Invalid("common_name", "is required")
	}
	for _, ip := range req.IPAddresses {
		if net.ParseIP(ip) == nil {
			return Certificate{}, orcherr.Invalid("ip_addresses", "invalid ip address %q", ip)
		}
	}
	issued, err := IssueSelfSigned(Request{
		CommonName:   req.CommonName,
		Organization: s.org,
		DNSNames:     req.DNSNames,
		IPAddresses:  req.IPAddresses,
	}, s.keyBits, s.now(), s.validity)
	if err != nil {
		return Certificate{}, err
	}
	c := Certificate{
		NodeID:      req.NodeID,
		CommonName:  req.CommonName,
		Serial:      issued.Serial,
		Certificate: string(issued.CertPEM),
		PrivateKey:  string(issued.KeyPEM),
		IssuedAt:    issued.NotBefore,
		ExpiresAt:   issued.NotAfter,
	}
	for {
		c.ID = uuid.NewString()
		if s.certs.Insert(c.ID, c) {
			break
		}
	}
	s.log.Info().Str("certificate_id", c.ID).Str("node_id", c.NodeID).Str("common_name", c.CommonName).
		Time("expires_at", c.ExpiresAt).Msg("certificate issued")
	return c, nil
}

func (s *Store) Get(id string) (Certificate, error) {
	c, ok := s.certs.Get(id)
	if !ok {
		return Certificate{}, orcherr.NotFound("certificate", id)
	}
	return c, nil
}

// Revoke forgets the certificate.
func (s *Store) Revoke(id string) error {
	if _, ok := s.certs.Delete(id); !ok {
		return orcherr.NotFound("certificate", id)
	}
	s.log.Info().Str("certificate_id", id).Msg("certificate revoked")
	return nil
}

// Validate checks that certPEM decodes and that the current time lies within
// its validity window.
func (s *Store) Validate(certPEM string) error {
	if _, err := CheckValidity([]byte(certPEM), s.now()); err != nil {
		return orcherr.Invalid("certificate", "%v", err)
	}
	return nil
}

// ForNode returns the certificates issued to nodeID in issue order.
func (s *Store) ForNode(nodeID string) []Certificate {
	var out []Certificate
	for _, c := range s.certs.Snapshot() {
		if c.NodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}
