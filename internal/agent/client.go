package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/VerteraIO/edgefleet/internal/controlplane/dispatch"
	"github.com/VerteraIO/edgefleet/internal/controlplane/nodes"
)

// StatusError is a non-2xx reply from the controller.
type StatusError struct {
	Code    int
	Kind    string `json:"error"`
	Message string `json:"message"`
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("controller returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("controller returned %d", e.Code)
}

// HasStatus reports whether err is a StatusError with the given code.
func HasStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

type Token struct {
	NodeID    string    `json:"node_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type HeartbeatResponse struct {
	Node        nodes.EdgeNode        `json:"node"`
	Assignments []dispatch.Assignment `json:"assignments"`
}

// Client talks to the controller's /api/v1 endpoints.
type Client struct {
	base string
	hc   *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/") + "/api/v1", hc: hc}
}

func (c *Client) Register(ctx context.Context, req nodes.RegisterRequest) (nodes.EdgeNode, error) {
	var n nodes.EdgeNode
	err := c.do(ctx, http.MethodPost, "/nodes/register", "", "", req, &n)
	return n, err
}

func (c *Client) IssueToken(ctx context.Context, nodeID string) (Token, error) {
	var t Token
	err := c.do(ctx, http.MethodPost, "/nodes/"+nodeID+"/token", "", "", nil, &t)
	return t, err
}

func (c *Client) Heartbeat(ctx context.Context, nodeID, token string, req nodes.HeartbeatRequest) (HeartbeatResponse, error) {
	var out HeartbeatResponse
	err := c.do(ctx, http.MethodPost, "/nodes/"+nodeID+"/heartbeat", nodeID, token, req, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path, nodeID, token string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Node-ID", nodeID)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, se) != nil {
			se.Message = strings.TrimSpace(string(data))
		}
		return se
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
