package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Error taxonomy. Every failure out of the client is one of these
// three; all of them are recoverable by the next user action or the
// next scheduled tick.

// ValidationError rejects bad input before any network call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NetworkError means the request never completed.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// BackendError is a non-success response from the service.
type BackendError struct {
	Op     string
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Op, e.Status, e.Body)
}

// Client issues the two operations the backend exposes: submit a
// query, read the conversation snapshot. Token may be empty (the
// backend decides whether to require auth).
type Client struct {
	APIBase string
	Token   string
	HTTP    *http.Client
}

func NewClient(apiBase, token string, timeout time.Duration, verbose bool) *Client {
	httpClient := &http.Client{Timeout: timeout}
	if verbose {
		httpClient.Transport = &loggingTransport{}
	}
	return &Client{
		APIBase: strings.TrimSuffix(apiBase, "/"),
		Token:   token,
		HTTP:    httpClient,
	}
}

func (c *Client) headers() http.Header {
	h := http.Header{
		"Content-Type": {"application/json"},
	}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}

func urlJoin(base, rel string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	relURL, err := url.Parse(rel)
	if err != nil {
		return "", err
	}

	if relURL.Scheme != "" && relURL.Host != "" {
		return rel, nil
	}

	result := &url.URL{
		Scheme: baseURL.Scheme,
		User:   baseURL.User,
		Host:   baseURL.Host,
		Path:   path.Join(baseURL.Path, relURL.Path),
	}

	return result.String(), nil
}

type submitPayload struct {
	SessionID string        `json:"session_id"`
	Query     string        `json:"query"`
	Options   submitOptions `json:"options"`
}

type submitOptions struct {
	Model string `json:"model"`
}

// SubmitResponse is the acceptance returned by POST /v1/chat. The
// backend generates the request id.
type SubmitResponse struct {
	Status    string `json:"status,omitempty"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
}

// SubmitQuery issues the write: one new query for the session. No
// polling happens here; that is the Coordinator's job.
func (c *Client) SubmitQuery(ctx context.Context, sessionID, query, model string) (*SubmitResponse, error) {
	const op = "POST /v1/chat failed"

	chatURL, err := urlJoin(c.APIBase, "/v1/chat")
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	body, err := json.Marshal(submitPayload{
		SessionID: sessionID,
		Query:     query,
		Options:   submitOptions{Model: model},
	})
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", chatURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	req.Header = c.headers()

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &BackendError{Op: op, Status: resp.StatusCode, Body: bodySnippet(resp.Body)}
	}

	// Acceptance needs no body contract beyond success; tolerate one
	// we cannot parse.
	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return &SubmitResponse{SessionID: sessionID}, nil
	}
	return &out, nil
}

// FetchConversation issues the read: the full snapshot for a session,
// used verbatim. Callers keep their previous snapshot on failure.
func (c *Client) FetchConversation(ctx context.Context, sessionID string) (*ConversationSnapshot, error) {
	const op = "GET conversation failed"

	if sessionID == "" {
		return nil, &ValidationError{Reason: "session id must not be empty"}
	}

	convURL, err := urlJoin(c.APIBase, "/v1/sessions/"+url.PathEscape(sessionID)+"/conversation")
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", convURL, nil)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	req.Header = c.headers()

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &BackendError{Op: op, Status: resp.StatusCode, Body: bodySnippet(resp.Body)}
	}

	var snap ConversationSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	return &snap, nil
}

// Health pings GET /v1/healthz and returns whatever the backend
// reports.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	const op = "GET /v1/healthz failed"

	healthURL, err := urlJoin(c.APIBase, "/v1/healthz")
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", healthURL, nil)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &BackendError{Op: op, Status: resp.StatusCode, Body: bodySnippet(resp.Body)}
	}

	var health map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	return health, nil
}

func bodySnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

type loggingTransport struct{}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	fmt.Printf(">>> %s %s %s\n", req.Method, req.URL, req.Proto)
	for k, v := range req.Header {
		fmt.Printf(">>> %s: %s\n", k, v)
	}

	if req.Body != nil {
		reqBody, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewBuffer(reqBody))

		var jsonData interface{}
		if err := json.Unmarshal(reqBody, &jsonData); err == nil {
			jsonBytes, _ := json.MarshalIndent(jsonData, "", "  ")
			fmt.Printf(">>> %s\n", jsonBytes)
		} else {
			fmt.Printf(">>> %s\n", reqBody)
		}
	}

	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	fmt.Printf("<<< %s %s\n", resp.Proto, resp.Status)
	for k, v := range resp.Header {
		fmt.Printf("<<< %s: %s\n", k, v)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewBuffer(respBody))

	var jsonDataResp interface{}
	if err := json.Unmarshal(respBody, &jsonDataResp); err == nil {
		jsonBytes, _ := json.MarshalIndent(jsonDataResp, "", "  ")
		fmt.Printf("<<< %s\n", jsonBytes)
	} else {
		fmt.Printf("<<< %s\n", respBody)
	}

	return resp, nil
}
