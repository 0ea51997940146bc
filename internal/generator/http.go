package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/whall/draftpilot/internal/mail"
	"github.com/whall/draftpilot/internal/triage"
)

const defaultTimeout = 30 * time.Second

// HTTPGenerator calls a remote draft-generation backend over JSON/HTTP.
// The request is attempted exactly once; the backend owns its own retries.
type HTTPGenerator struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewHTTPGenerator creates a generator client for the given backend URL.
func NewHTTPGenerator(baseURL, model string) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type generateRequest struct {
	Model       string            `json:"model,omitempty"`
	Account     string            `json:"account"`
	Sender      string            `json:"sender"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Attachments []attachmentMeta  `json:"attachments,omitempty"`
	Annotation  triage.Annotation `json:"annotation"`
}

type attachmentMeta struct {
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type generateResponse struct {
	DraftText  string            `json:"draft_text"`
	Category   triage.Category   `json:"category"`
	Importance triage.Importance `json:"importance"`
	Error      string            `json:"error,omitempty"`
}

// Generate implements Generator.
func (g *HTTPGenerator) Generate(ctx context.Context, msg *mail.Message, account string) (Draft, error) {
	reqBody := generateRequest{
		Model:      g.model,
		Account:    account,
		Sender:     msg.Sender,
		Subject:    msg.Subject,
		Body:       msg.Body,
		Annotation: triage.Categorize(msg),
	}
	for _, att := range msg.Attachments {
		reqBody.Attachments = append(reqBody.Attachments, attachmentMeta{
			Filename: att.Filename,
			MimeType: att.MimeType,
			Size:     att.Size,
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Draft{}, fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return Draft{}, fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Draft{}, fmt.Errorf("generator backend: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Draft{}, fmt.Errorf("read generator response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Draft{}, fmt.Errorf("generator backend returned %d: %s", resp.StatusCode, string(data))
	}

	var genResp generateResponse
	if err := json.Unmarshal(data, &genResp); err != nil {
		return Draft{}, fmt.Errorf("parse generator response: %w", err)
	}
	if genResp.Error != "" {
		return Draft{}, fmt.Errorf("generator backend: %s", genResp.Error)
	}
	if genResp.DraftText == "" {
		return Draft{}, fmt.Errorf("generator backend returned an empty draft")
	}

	draft := Draft{
		Text:       genResp.DraftText,
		Category:   genResp.Category,
		Importance: genResp.Importance,
	}
	// Backends that only write prose may omit the classification; fall back
	// to the local rule chain so the draft is always annotated.
	if draft.Category == "" {
		ann := triage.Categorize(msg)
		draft.Category = ann.Category
		draft.Importance = ann.Importance
	}
	return draft, nil
}
