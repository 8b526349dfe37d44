// ABOUTME: HTTP client for the two remote conversational agents (builder, interactor)
// ABOUTME: Lazy per-sessionKey remote sessions; failures surface a typed kind, never retried here

package agentgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Role selects which remote agent handles a call.
type Role string

const (
	// RoleBuilder is the pipeline-building agent the owner converses with.
	RoleBuilder Role = "builder"
	// RoleInteractor is the agent that advances leads through the pipeline.
	RoleInteractor Role = "interactor"
)

// Kind classifies a remote failure so the caller can choose a retry policy.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindRemote      Kind = "remote_error"
)

// RemoteError is a failed call to a remote agent. The gateway itself never
// retries; amplifying a rate limit helps nobody.
type RemoteError struct {
	Kind   Kind
	Role   Role
	Status int // HTTP status when applicable, 0 otherwise
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s agent: %s (status %d): %v", e.Role, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s agent: %s: %v", e.Role, e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Attachment is a file forwarded with a message.
type Attachment struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Reply is a normalized agent response: the conversational text plus any
// flattened structured fields the agent emitted.
type Reply struct {
	Text   string         `json:"text"`
	Fields map[string]any `json:"fields"`
}

// Client wraps the two remote agents behind one Send call. Sessions are
// created lazily: the first call for a sessionKey establishes a remote
// conversation handle, later calls reuse it.
type Client struct {
	httpClient *http.Client
	baseURLs   map[Role]string

	mu       sync.Mutex
	sessions map[string]string // role + "/" + sessionKey -> remote session id

	logger *slog.Logger
}

// Config holds the remote endpoints.
type Config struct {
	BuilderURL    string
	InteractorURL string
	HTTPClient    *http.Client // optional; http.DefaultClient when nil
}

// New creates a Client. Pass nil logger for the default.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURLs: map[Role]string{
			RoleBuilder:    cfg.BuilderURL,
			RoleInteractor: cfg.InteractorURL,
		},
		sessions: make(map[string]string),
		logger:   logger.With("component", "agentgw"),
	}
}

// Send delivers userText (and optional attachments) to the agent for role
// under the given session key and returns the normalized reply. Nothing is
// committed anywhere on failure, so an abandoned call has no side effects.
func (c *Client) Send(ctx context.Context, role Role, sessionKey, userText string, attachments []Attachment) (*Reply, error) {
	base, ok := c.baseURLs[role]
	if !ok || base == "" {
		return nil, fmt.Errorf("no endpoint configured for role %q", role)
	}

	sessionID, err := c.ensureSession(ctx, role, base, sessionKey)
	if err != nil {
		return nil, err
	}

	reqBody := struct {
		Message     string       `json:"message"`
		Attachments []Attachment `json:"attachments,omitempty"`
	}{Message: userText, Attachments: attachments}

	var reply Reply
	url := fmt.Sprintf("%s/v1/sessions/%s/query", base, sessionID)
	if err := c.post(ctx, role, url, reqBody, &reply); err != nil {
		return nil, err
	}

	c.logger.Debug("agent reply received",
		"role", role,
		"session_key", sessionKey,
		"fields", len(reply.Fields),
	)
	return &reply, nil
}

// ResetSessions drops all cached remote session handles. The next Send per
// key establishes a fresh conversation.
func (c *Client) ResetSessions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[string]string)
	c.logger.Info("agent sessions reset")
}

// ensureSession returns the cached remote session ID for (role, sessionKey)
// or creates one.
func (c *Client) ensureSession(ctx context.Context, role Role, base, sessionKey string) (string, error) {
	cacheKey := string(role) + "/" + sessionKey

	c.mu.Lock()
	id, ok := c.sessions[cacheKey]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	reqBody := struct {
		UserID string `json:"user_id"`
	}{UserID: fmt.Sprintf("%s_%s", role, uuid.New().String()[:8])}

	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.post(ctx, role, base+"/v1/sessions", reqBody, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", &RemoteError{Kind: KindRemote, Role: role, Err: errors.New("session create returned empty session_id")}
	}

	c.mu.Lock()
	// Another caller may have raced us; first one in wins so both reuse
	// the same remote conversation.
	if existing, ok := c.sessions[cacheKey]; ok {
		c.mu.Unlock()
		return existing, nil
	}
	c.sessions[cacheKey] = resp.SessionID
	c.mu.Unlock()

	c.logger.Info("agent session created", "role", role, "session_key", sessionKey)
	return resp.SessionID, nil
}

// post sends a JSON request and decodes a JSON response, mapping transport
// and HTTP failures onto the RemoteError taxonomy.
func (c *Client) post(ctx context.Context, role Role, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteError{Kind: classifyTransport(err), Role: role, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RemoteError{
			Kind:   classifyStatus(resp.StatusCode),
			Role:   role,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", bytes.TrimSpace(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RemoteError{Kind: KindRemote, Role: role, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

func classifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindRemote
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusGatewayTimeout:
		return KindTimeout
	default:
		return KindRemote
	}
}
