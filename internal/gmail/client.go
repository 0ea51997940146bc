// Package gmail implements the provider.Mailbox contract against the Gmail
// REST API, with rate limiting and retry logic for read operations.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/whall/draftpilot/internal/mail"
	"github.com/whall/draftpilot/internal/mime"
	"github.com/whall/draftpilot/internal/provider"
)

const (
	defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"
	maxRetries     = 8   // read operations only
	maxBackoff     = 300 // max backoff in seconds

	// DefaultListQuery is the triage window when no query is given.
	DefaultListQuery = "in:inbox (is:unread OR newer_than:7d)"

	// DefaultMaxResults caps an unfiltered inbox listing.
	DefaultMaxResults = 20
)

// Client talks to the Gmail API for one account.
type Client struct {
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *slog.Logger
	baseURL     string
	userID      string // "me" for authenticated user
	concurrency int    // max parallel requests for detail fetches
	backoff     func(attempt int) time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithConcurrency sets the max concurrent requests for detail fetches.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) {
		c.concurrency = n
	}
}

// WithRateLimiter sets a custom rate limiter.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) {
		c.rateLimiter = rl
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient overrides the HTTP client. Used by tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Gmail client bound to the given token source.
func NewClient(tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		userID:      "me",
		baseURL:     defaultBaseURL,
		concurrency: 5,
		logger:      slog.Default(),
		backoff:     calculateBackoff,
	}
	if tokenSource != nil {
		c.httpClient = oauth2.NewClient(context.Background(), tokenSource)
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	if c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(5.0)
	}

	return c
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	return nil
}

// request makes one API call with rate limiting. Read operations are retried
// with exponential backoff on transient failures. Write operations get a
// single attempt: a draft, send, or modify must never fire twice for one
// user action.
func (c *Client) request(ctx context.Context, op Operation, method, path string, bodyBytes []byte, retryable bool) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx, op); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	reqURL := c.baseURL + path
	attempts := 1
	if retryable {
		attempts = maxRetries + 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.logger.Debug("retrying request", "attempt", attempt, "backoff", backoff, "path", path)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		// New reader per attempt so the body can be re-read on retry
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			if retryable {
				continue
			}
			return nil, lastErr
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			if retryable {
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		perr := &provider.Error{
			StatusCode: resp.StatusCode,
			Op:         op.String(),
			Message:    strings.TrimSpace(string(respBody)),
		}

		switch resp.StatusCode {
		case 429:
			// Expected under load; the limiter absorbs it
			c.logger.Debug("rate limited, backing off 30s", "path", path, "attempt", attempt)
			c.rateLimiter.Throttle(30 * time.Second)
			lastErr = perr
			if retryable {
				continue
			}
			return nil, perr

		case 403:
			// Gmail reports quota exhaustion as 403 rateLimitExceeded
			if isRateLimitError(respBody) {
				c.logger.Debug("quota exceeded, backing off 60s", "path", path, "attempt", attempt)
				c.rateLimiter.Throttle(60 * time.Second)
				lastErr = perr
				if retryable {
					continue
				}
			}
			return nil, perr

		case 500, 502, 503, 504:
			lastErr = perr
			if retryable {
				continue
			}
			return nil, perr

		default:
			// 401, 404, and other client errors are never retried
			return nil, perr
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// calculateBackoff returns the backoff duration for a retry attempt.
// Exponential with full jitter.
func calculateBackoff(attempt int) time.Duration {
	base := float64(uint(1) << uint(attempt))
	if base > maxBackoff {
		base = maxBackoff
	}
	jittered := rand.Float64() * base
	return time.Duration(jittered * float64(time.Second))
}

// isRateLimitError checks if a 403 response is actually a quota error.
func isRateLimitError(body []byte) bool {
	return bytes.Contains(body, []byte("rateLimitExceeded")) ||
		bytes.Contains(body, []byte("RATE_LIMIT_EXCEEDED")) ||
		bytes.Contains(body, []byte("Quota exceeded")) ||
		bytes.Contains(body, []byte("userRateLimitExceeded"))
}

func (o Operation) String() string {
	switch o {
	case OpProfile:
		return "profile"
	case OpMessagesList:
		return "messages.list"
	case OpMessagesGet:
		return "messages.get"
	case OpMessagesModify:
		return "messages.modify"
	case OpDraftsCreate:
		return "drafts.create"
	case OpMessagesSend:
		return "messages.send"
	default:
		return "unknown"
	}
}

// Gmail API JSON types (unexported, used only for marshaling).

type profileResponse struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
}

type gmailMessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type listMessagesResponse struct {
	Messages           []gmailMessageRef `json:"messages"`
	NextPageToken      string            `json:"nextPageToken"`
	ResultSizeEstimate int64             `json:"resultSizeEstimate"`
}

type rawMessageResponse struct {
	ID           string   `json:"id"`
	ThreadID     string   `json:"threadId"`
	LabelIDs     []string `json:"labelIds"`
	Snippet      string   `json:"snippet"`
	InternalDate string   `json:"internalDate"`
	Raw          string   `json:"raw"` // base64url encoded (unpadded)
}

type draftRequest struct {
	Message sendRequest `json:"message"`
}

type sendRequest struct {
	Raw      string `json:"raw"`
	ThreadID string `json:"threadId,omitempty"`
}

type draftResponse struct {
	ID      string          `json:"id"`
	Message gmailMessageRef `json:"message"`
}

type modifyRequest struct {
	RemoveLabelIDs []string `json:"removeLabelIds,omitempty"`
	AddLabelIDs    []string `json:"addLabelIds,omitempty"`
}

// Profile returns the authenticated user's address. Used to verify a
// credential when an account is added.
type Profile struct {
	EmailAddress  string
	MessagesTotal int64
	ThreadsTotal  int64
}

// GetProfile returns the authenticated user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	path := fmt.Sprintf("/users/%s/profile", c.userID)
	data, err := c.request(ctx, OpProfile, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}

	var resp profileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	return &Profile{
		EmailAddress:  resp.EmailAddress,
		MessagesTotal: resp.MessagesTotal,
		ThreadsTotal:  resp.ThreadsTotal,
	}, nil
}

// ListRecent returns recent messages with full detail for triage. The listing
// itself must succeed; individual detail fetches that fail are logged and
// dropped from the result.
func (c *Client) ListRecent(ctx context.Context, filter provider.ListFilter) ([]*mail.Message, error) {
	query := filter.Query
	if query == "" {
		query = DefaultListQuery
	}
	maxResults := filter.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))

	path := fmt.Sprintf("/users/%s/messages?%s", c.userID, params.Encode())
	data, err := c.request(ctx, OpMessagesList, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}

	var resp listMessagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message list: %w", err)
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}

	results := make([]*mail.Message, len(resp.Messages))
	sem := make(chan struct{}, c.concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i, ref := range resp.Messages {
		i, id := i, ref.ID

		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			msg, err := c.GetDetail(ctx, id)
			if err != nil {
				// Partial results are fine for an inbox view
				c.logger.Warn("failed to fetch message", "id", id, "error", err)
				return nil
			}
			results[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	messages := make([]*mail.Message, 0, len(results))
	for _, m := range results {
		if m != nil {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

// GetDetail fetches one message in raw MIME form and parses out the fields
// the triage pipeline needs.
func (c *Client) GetDetail(ctx context.Context, messageID string) (*mail.Message, error) {
	path := fmt.Sprintf("/users/%s/messages/%s?format=raw", c.userID, messageID)
	data, err := c.request(ctx, OpMessagesGet, "GET", path, nil, true)
	if err != nil {
		return nil, err
	}

	var resp rawMessageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	rawBytes, err := decodeBase64URL(resp.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode raw MIME: %w", err)
	}

	parsed, err := mime.Parse(rawBytes)
	if err != nil {
		return nil, fmt.Errorf("parse MIME for %s: %w", messageID, err)
	}

	received := parsed.Date
	if received.IsZero() {
		if ms, err := strconv.ParseInt(resp.InternalDate, 10, 64); err == nil && ms > 0 {
			received = time.UnixMilli(ms)
		}
	}

	body := parsed.Body
	if len(body) > mail.BodyExcerptLimit {
		body = body[:mail.BodyExcerptLimit]
	}

	return &mail.Message{
		ID:              resp.ID,
		ThreadID:        resp.ThreadID,
		Sender:          parsed.Sender,
		SenderEmail:     parsed.SenderEmail,
		HeaderMessageID: parsed.MessageID,
		Subject:         parsed.Subject,
		ReceivedAt:      received,
		Snippet:         resp.Snippet,
		Body:            body,
		Attachments:     parsed.Attachments,
	}, nil
}

// CreateDraft creates a reply draft in the thread. Single attempt.
func (c *Client) CreateDraft(ctx context.Context, reply provider.Reply) (string, error) {
	raw, err := buildReplyRaw(reply)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(draftRequest{Message: sendRequest{
		Raw:      base64.RawURLEncoding.EncodeToString(raw),
		ThreadID: reply.ThreadID,
	}})
	if err != nil {
		return "", fmt.Errorf("marshal draft: %w", err)
	}

	path := fmt.Sprintf("/users/%s/drafts", c.userID)
	data, err := c.request(ctx, OpDraftsCreate, "POST", path, body, false)
	if err != nil {
		return "", err
	}

	var resp draftResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parse draft response: %w", err)
	}
	return resp.ID, nil
}

// Send sends a reply into the thread. Single attempt.
func (c *Client) Send(ctx context.Context, reply provider.Reply) (string, error) {
	raw, err := buildReplyRaw(reply)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(sendRequest{
		Raw:      base64.RawURLEncoding.EncodeToString(raw),
		ThreadID: reply.ThreadID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal send: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/send", c.userID)
	data, err := c.request(ctx, OpMessagesSend, "POST", path, body, false)
	if err != nil {
		return "", err
	}

	var resp gmailMessageRef
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parse send response: %w", err)
	}
	return resp.ID, nil
}

// ModifyLabels removes labels from a message. Single attempt.
func (c *Client) ModifyLabels(ctx context.Context, messageID string, removeLabels []string) error {
	body, err := json.Marshal(modifyRequest{RemoveLabelIDs: removeLabels})
	if err != nil {
		return fmt.Errorf("marshal modify: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/%s/modify", c.userID, messageID)
	_, err = c.request(ctx, OpMessagesModify, "POST", path, body, false)
	return err
}

// buildReplyRaw assembles an RFC 5322 reply message.
func buildReplyRaw(reply provider.Reply) ([]byte, error) {
	if reply.To == "" {
		return nil, fmt.Errorf("reply has no recipient")
	}

	subject := reply.Subject
	if subject != "" && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", reply.To)
	if subject != "" {
		fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	}
	if reply.InReplyTo != "" {
		ref := reply.InReplyTo
		if !strings.HasPrefix(ref, "<") {
			ref = "<" + ref + ">"
		}
		fmt.Fprintf(&buf, "In-Reply-To: %s\r\n", ref)
		fmt.Fprintf(&buf, "References: %s\r\n", ref)
	}
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(reply.Body, "\n", "\r\n"))
	return buf.Bytes(), nil
}

// decodeBase64URL decodes base64url with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return base64.URLEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// Ensure Client implements the mailbox contract.
var _ provider.Mailbox = (*Client)(nil)
