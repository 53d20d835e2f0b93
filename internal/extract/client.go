package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nhle/invite-sync/internal/model"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 2048
	apiURL           = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"
)

// Client calls the Claude Messages API and validates every response
// against the expected schema.
type Client struct {
	apiKey    string
	model     string
	maxTokens int
	client    *http.Client
	schemas   *schemas
}

// NewClient creates an extraction client.
func NewClient(apiKey, modelName string, maxTokens int) (*Client, error) {
	if modelName == "" {
		modelName = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	s, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	return &Client{
		apiKey:    apiKey,
		model:     modelName,
		maxTokens: maxTokens,
		client:    &http.Client{},
		schemas:   s,
	}, nil
}

// ExtractInvite pulls a structured event proposal out of message text.
func (c *Client) ExtractInvite(ctx context.Context, text string) (*model.InvitePayload, error) {
	prompt := "Extract the event proposal from the following email. " +
		"Respond with ONLY a JSON object with fields: external_ref (a stable " +
		"identifier for the event, e.g. a booking reference or slug), title, " +
		"summary, inviter, location, proposed_times (array of ISO 8601 " +
		"strings), follow_up_actions (array of strings), confidence (0..1). " +
		"Use empty strings/arrays for anything absent.\n\n" + text

	raw, err := c.callAPI(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var payload model.InvitePayload
	if err := validateJSON(c.schemas.invite, "invite", raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// ExtractDecisions pulls per-reference decisions out of a digest reply.
func (c *Client) ExtractDecisions(ctx context.Context, text string, letters []string) ([]ReplyItem, error) {
	prompt := fmt.Sprintf(
		"The user is replying to a digest whose items are lettered %s. "+
			"Extract every decision from the reply below. Respond with ONLY a "+
			"JSON array of objects with fields: reference (the letter or id "+
			"the user wrote), decision (yes/no/maybe), notes, confidence "+
			"(0..1).\n\n%s",
		strings.Join(letters, ", "), text,
	)

	raw, err := c.callAPI(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var items []ReplyItem
	if err := validateJSON(c.schemas.decisions, "decisions", raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// CheckStruckThrough inspects a rendered HTML reply body for
// struck-through references.
func (c *Client) CheckStruckThrough(ctx context.Context, html string) (*Guardrail, error) {
	prompt := "The following HTML is a reply to an invite digest. Identify " +
		"any lettered references the author struck through (del/s/strike " +
		"tags or line-through styling). Respond with ONLY a JSON object " +
		"with fields: struck_through_references (array of strings), notes " +
		"(string).\n\n" + html

	raw, err := c.callAPI(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var g Guardrail
	if err := validateJSON(c.schemas.guardrail, "guardrail", raw, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// apiRequest is the Claude Messages API request body.
type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiResponse is the subset of the Messages API response we read.
type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// callAPI makes a single request to the Claude Messages API and
// returns the raw text of the first content block.
func (c *Client) callAPI(ctx context.Context, prompt string) ([]byte, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []apiMessage{
			{Role: "user", Content: prompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, apiURL, bytes.NewReader(bodyBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	for _, block := range result.Content {
		if block.Type == "text" {
			return []byte(stripCodeFence(block.Text)), nil
		}
	}

	return nil, fmt.Errorf("response contained no text content")
}

// stripCodeFence removes a surrounding markdown code fence, which
// models occasionally add despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
