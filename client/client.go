package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	session "github.com/goliatone/go-session"
)

// defaultTimeout keeps every call fail-fast: the caller is never blocked
// waiting on a stalled connection.
const defaultTimeout = 10 * time.Second

// Refresher renews the stored credential pair. The session Manager implements
// it; the pipeline invokes it at most once per call on a 401.
type Refresher interface {
	AttemptRefresh(ctx context.Context) error
}

// CallOptions control a single outbound call
type CallOptions struct {
	// Authenticated attaches the stored access token as a bearer header
	Authenticated bool
	// ReactiveRefresh allows a single refresh-and-retry on 401. It must be
	// off for calls made from inside the session manager itself.
	ReactiveRefresh bool
}

// Client is the outbound request pipeline: it resolves URLs, injects the
// bearer token, executes with a fixed fail-fast timeout, and classifies HTTP
// outcomes into the shared error taxonomy.
type Client struct {
	baseURL   string
	http      *http.Client
	store     SecureStore
	refresher Refresher
	logger    session.Logger
}

// ClientOption customizes pipeline construction
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClientLogger overrides the logger
func WithClientLogger(logger session.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds a pipeline rooted at baseURL, reading tokens from store
func NewClient(baseURL string, store SecureStore, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		store:   store,
		logger:  noopLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}

// SetRefresher wires the session manager in after construction; the manager
// needs the client first, so this breaks the cycle.
func (c *Client) SetRefresher(r Refresher) {
	c.refresher = r
}

// Do performs an authenticated call with reactive refresh enabled
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	return c.DoWithOptions(ctx, method, path, body, out, CallOptions{
		Authenticated:   true,
		ReactiveRefresh: true,
	})
}

// DoUnauthenticated performs a call without credentials
func (c *Client) DoUnauthenticated(ctx context.Context, method, path string, body, out any) error {
	return c.DoWithOptions(ctx, method, path, body, out, CallOptions{})
}

// DoWithOptions performs a single call. On a 401 for a call that was sent
// with a token it triggers exactly one refresh and one retry; a failed
// refresh surfaces the 401 immediately with no further retries.
func (c *Client) DoWithOptions(ctx context.Context, method, path string, body, out any, opts CallOptions) error {
	sentToken, err := c.execute(ctx, method, path, body, out, opts.Authenticated)
	if err == nil {
		return nil
	}

	if !isUnauthorized(err) || !sentToken || !opts.ReactiveRefresh || c.refresher == nil {
		return err
	}

	// Clock skew or a long-suspended process: the proactive timer never
	// fired. One reactive refresh, one retry.
	if refreshErr := c.refresher.AttemptRefresh(ctx); refreshErr != nil {
		return err
	}

	_, err = c.execute(ctx, method, path, body, out, opts.Authenticated)
	return err
}

// execute runs one HTTP round trip and reports whether a token was attached
func (c *Client) execute(ctx context.Context, method, path string, body, out any, authenticated bool) (bool, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return false, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to encode request body").
				WithTextCode(session.TextCodeDecodingFailure)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to build request")
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	sentToken := false
	if authenticated {
		if token, ok := c.store.Get(KeyAccessToken); ok && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
			sentToken = true
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return sentToken, goerrors.Wrap(err, session.ErrNetworkFailure.Category, session.ErrNetworkFailure.Message).
			WithTextCode(session.TextCodeNetworkFailure)
	}
	defer res.Body.Close()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		if out == nil || res.StatusCode == http.StatusNoContent {
			return sentToken, nil
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return sentToken, goerrors.Wrap(err, session.ErrDecodingFailure.Category, session.ErrDecodingFailure.Message).
				WithTextCode(session.TextCodeDecodingFailure)
		}
		return sentToken, nil
	}

	return sentToken, classifyStatus(res.StatusCode, res.Body)
}

// classifyStatus maps an HTTP failure status into the error taxonomy
func classifyStatus(status int, body io.Reader) error {
	msg := serverMessage(body)

	switch status {
	case http.StatusUnauthorized:
		return goerrors.New("unauthorized", goerrors.CategoryAuth).
			WithTextCode(session.TextCodeTokenInvalid).
			WithCode(goerrors.CodeUnauthorized)
	case http.StatusForbidden:
		return goerrors.New("forbidden", goerrors.CategoryAuthz).
			WithCode(goerrors.CodeForbidden)
	case http.StatusNotFound:
		return goerrors.New("not found", goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound)
	case http.StatusConflict:
		return goerrors.New(session.ErrDuplicateAccount.Message, goerrors.CategoryConflict).
			WithTextCode(session.TextCodeDuplicateAccount).
			WithCode(goerrors.CodeConflict)
	case http.StatusUnprocessableEntity:
		// Only the password policy rejection maps to the weak-credential
		// code; any other field failing validation stays generic.
		if strings.Contains(strings.ToLower(msg), "password") {
			return goerrors.New(validationMessage(msg), goerrors.CategoryValidation).
				WithTextCode(session.TextCodeWeakCredential)
		}
		return goerrors.New(validationMessage(msg), goerrors.CategoryValidation).
			WithTextCode(session.TextCodeValidationFailure)
	default:
		return goerrors.New(session.ErrServerFault.Message, goerrors.CategoryInternal).
			WithTextCode(session.TextCodeServerFault).
			WithMetadata(map[string]any{
				"status": status,
			})
	}
}

// serverMessage pulls the {"error": "..."} body if present; best effort
func serverMessage(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return ""
	}
	return payload.Error
}

func validationMessage(msg string) string {
	if msg == "" {
		return "validation failed"
	}
	return msg
}

func isUnauthorized(err error) bool {
	return session.IsUnauthorized(err)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
