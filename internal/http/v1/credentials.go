package v1

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/VerteraIO/edgefleet/internal/orcherr"
	"github.com/VerteraIO/edgefleet/internal/security/pki"
)

type tokenResp struct {
	NodeID    string    `json:"node_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type validateTokenReq struct {
	NodeID string `json:"node_id"`
	Token  string `json:"token"`
}

type validateCertReq struct {
	Certificate string `json:"certificate"`
}

type revokeCertReq struct {
	CertificateID string `json:"certificate_id"`
}

type validResp struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type listCertsResp struct {
	Items []pki.Certificate `json:"items"`
	Total int               `json:"total"`
}

type revokedResp struct {
	Revoked bool `json:"revoked"`
}

// issueToken handles POST /nodes/{nodeId}/token. The node must be registered.
func (a *api) issueToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeId")
	if _, err := a.orch.Nodes.Get(id); err != nil {
		writeError(w, r, err)
		return
	}
	tok, err := a.sec.Tokens.IssueToken(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tokenResp{NodeID: tok.NodeID, Token: tok.Token, ExpiresAt: tok.ExpiresAt})
}

// validateToken handles POST /tokens/validate
func (a *api) validateToken(w http.ResponseWriter, r *http.Request) {
	var req validateTokenReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validResp{Valid: a.sec.Tokens.ValidateToken(req.NodeID, req.Token)})
}

// revokeToken handles DELETE /nodes/{nodeId}/token
func (a *api) revokeToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, revokedResp{Revoked: a.sec.Tokens.RevokeToken(chi.URLParam(r, "nodeId"))})
}

// issueCertificate handles POST /certificates/issue
func (a *api) issueCertificate(w http.ResponseWriter, r *http.Request) {
	var req pki.IssueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.NodeID != "" {
		if _, err := a.orch.Nodes.Get(req.NodeID); err != nil {
			writeError(w, r, err)
			return
		}
	}
	c, err := a.sec.Certificates.Issue(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// validateCertificate handles POST /certificates/validate. An invalid
// certificate is a normal answer, not a request error.
func (a *api) validateCertificate(w http.ResponseWriter, r *http.Request) {
	var req validateCertReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.sec.Certificates.Validate(req.Certificate); err != nil {
		writeJSON(w, http.StatusOK, validResp{Valid: false, Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, validResp{Valid: true})
}

// getCertificate handles GET /certificates/{certificateId}. The record holds
// the private key, so only its node or the admin may read it.
func (a *api) getCertificate(w http.ResponseWriter, r *http.Request) {
	c, err := a.sec.Certificates.Get(chi.URLParam(r, "certificateId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if caller := callerFrom(r.Context()); caller != c.NodeID && !a.sec.IsAdmin(caller) {
		writeError(w, r, fmt.Errorf("certificate belongs to another node: %w", orcherr.ErrAuth))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// listNodeCertificates handles GET /nodes/{nodeId}/certificates
func (a *api) listNodeCertificates(w http.ResponseWriter, r *http.Request) {
	certs := a.sec.Certificates.ForNode(chi.URLParam(r, "nodeId"))
	if certs == nil {
		certs = []pki.Certificate{}
	}
	writeJSON(w, http.StatusOK, listCertsResp{Items: certs, Total: len(certs)})
}

// revokeCertificate handles POST /certificates/revoke
func (a *api) revokeCertificate(w http.ResponseWriter, r *http.Request) {
	var req revokeCertReq
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := a.sec.Certificates.Get(req.CertificateID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if caller := callerFrom(r.Context()); caller != c.NodeID && !a.sec.IsAdmin(caller) {
		writeError(w, r, fmt.Errorf("certificate belongs to another node: %w", orcherr.ErrAuth))
		return
	}
	if err := a.sec.Certificates.Revoke(req.CertificateID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, revokedResp{Revoked: true})
}
