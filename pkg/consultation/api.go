package consultation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/medlink-labs/consultkit/pkg/domain"
	"github.com/medlink-labs/consultkit/pkg/errors"
)

// TokenProvider supplies the bearer token for authenticated calls. Credential
// storage and refresh live outside this core.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed token.
type StaticToken string

// Token implements TokenProvider.
func (t StaticToken) Token(ctx context.Context) (string, error) {
	return string(t), nil
}

// StartSessionRequest is the body of the start-session call.
type StartSessionRequest struct {
	ConsultationType     domain.ConsultationType `json:"consultationType"`
	LinkedConstitutionID string                  `json:"linkedConstitutionId,omitempty"`
	DeviceInfo           string                  `json:"deviceInfo,omitempty"`
}

// envelope is the service's uniform success/data/error response wrapper.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HistoryPage is one page of the session history listing.
type HistoryPage struct {
	Content       []domain.SessionHistoryEntry `json:"content"`
	TotalPages    int                          `json:"totalPages"`
	TotalElements int64                        `json:"totalElements"`
	Size          int                          `json:"size"`
	Number        int                          `json:"number"`
}

// APIClientOptions represents consultation API client options
type APIClientOptions struct {
	BaseURL string
	Timeout time.Duration
}

// APIClient calls the consultation service's session endpoints. A non-success
// envelope and a transport error surface identically as a remote failure.
type APIClient struct {
	baseURL string
	tokens  TokenProvider
	http    *http.Client
}

// NewAPIClient creates a consultation API client.
func NewAPIClient(options APIClientOptions, tokens TokenProvider) *APIClient {
	timeout := options.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &APIClient{
		baseURL: options.BaseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: timeout},
	}
}

// StartSession requests a new consultation session.
func (c *APIClient) StartSession(ctx context.Context, req StartSessionRequest) (domain.Session, error) {
	return call[domain.Session](ctx, c, http.MethodPost, "/v1/video-consultation/sessions", req)
}

// ActivateSession marks a pending session active.
func (c *APIClient) ActivateSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return call[domain.Session](ctx, c, http.MethodPost, "/v1/video-consultation/sessions/"+sessionID+"/activate", nil)
}

// EndSession requests the cooperative end of a session.
func (c *APIClient) EndSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return call[domain.Session](ctx, c, http.MethodPost, "/v1/video-consultation/sessions/"+sessionID+"/end", nil)
}

// CancelSession cancels a pending or active session.
func (c *APIClient) CancelSession(ctx context.Context, sessionID string) error {
	_, err := call[struct{}](ctx, c, http.MethodDelete, "/v1/video-consultation/sessions/"+sessionID, nil)
	return err
}

// GetSession fetches a session by id.
func (c *APIClient) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return call[domain.Session](ctx, c, http.MethodGet, "/v1/video-consultation/sessions/"+sessionID, nil)
}

// GetActiveSession fetches the caller's currently active session, if any.
func (c *APIClient) GetActiveSession(ctx context.Context) (domain.Session, error) {
	return call[domain.Session](ctx, c, http.MethodGet, "/v1/video-consultation/sessions/active", nil)
}

// GetAnalysisResult fetches the AI analysis result for a completed session.
func (c *APIClient) GetAnalysisResult(ctx context.Context, sessionID string) (domain.AnalysisResult, error) {
	return call[domain.AnalysisResult](ctx, c, http.MethodGet, "/v1/video-consultation/sessions/"+sessionID+"/analysis", nil)
}

// GetHistory fetches one page of the session history.
func (c *APIClient) GetHistory(ctx context.Context, page, size int) (HistoryPage, error) {
	path := fmt.Sprintf("/v1/video-consultation/history?page=%d&size=%d", page, size)
	return call[HistoryPage](ctx, c, http.MethodGet, path, nil)
}

// call performs one envelope-wrapped request.
func call[T any](ctx context.Context, c *APIClient, method, path string, body any) (T, error) {
	var zero T

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return zero, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return zero, errors.Wrap(err, errors.ErrorTypeInternal, "REQUEST_ERROR", "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return zero, errors.Wrap(err, errors.ErrorTypeRemote, "TOKEN_ERROR", "failed to obtain bearer token")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, errors.Wrap(err, errors.ErrorTypeRemote, "HTTP_ERROR", "consultation service request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, errors.Wrap(err, errors.ErrorTypeRemote, "READ_ERROR", "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return zero, errors.New(errors.ErrorTypeRemote, "HTTP_STATUS", fmt.Sprintf("http %d", resp.StatusCode)).
			WithDetails(string(respBody))
	}

	var env envelope[T]
	if err := json.Unmarshal(respBody, &env); err != nil {
		return zero, errors.Wrap(err, errors.ErrorTypeRemote, "UNMARSHAL_ERROR", "failed to parse response envelope")
	}

	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = env.Message
		}
		return zero, errors.New(errors.ErrorTypeRemote, "SERVICE_ERROR", "consultation service rejected request").
			WithDetails(msg)
	}

	if env.Data == nil {
		return zero, nil
	}

	return *env.Data, nil
}
