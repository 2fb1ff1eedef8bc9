package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Client talks JSON over HTTP to the reasoning service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// ClientOpts holds parameters for creating a Client.
type ClientOpts struct {
	BaseURL string
	APIKey  string                    // static bearer token; ignored when OAuth is set
	OAuth   *clientcredentials.Config // optional client-credentials auth
	Timeout time.Duration             // defaults to 60s
	// For testing: inject an HTTP client instead of building one.
	HTTPClient *http.Client
}

// NewClient creates a Client.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("reasoning: base url is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	hc := opts.HTTPClient
	if hc == nil {
		if opts.OAuth != nil {
			hc = opts.OAuth.Client(context.Background())
		} else {
			hc = &http.Client{}
		}
		hc.Timeout = timeout
	}

	c := &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    hc,
	}
	if opts.OAuth == nil {
		c.apiKey = opts.APIKey
	}
	return c, nil
}

// StartInterview opens a fresh interview.
func (c *Client) StartInterview(ctx context.Context, req StartRequest) (any, error) {
	return c.post(ctx, OpStart, "/interview/start", req)
}

// ContinueInterview submits an answer.
func (c *Client) ContinueInterview(ctx context.Context, req ContinueRequest) (any, error) {
	return c.post(ctx, OpContinue, "/interview/continue", req)
}

// ResumeForMoreQuestions resumes a session toward a higher confidence target.
func (c *Client) ResumeForMoreQuestions(ctx context.Context, req AskMoreRequest) (any, error) {
	return c.post(ctx, OpAskMore, "/interview/ask-more", req)
}

// Finalize requests the structured analysis.
func (c *Client) Finalize(ctx context.Context, req FinalizeRequest) (any, error) {
	return c.post(ctx, OpFinalize, "/interview/finalize", req)
}

// UltraReanalyze requests a higher-effort re-analysis.
func (c *Client) UltraReanalyze(ctx context.Context, req UltraRequest) (any, error) {
	return c.post(ctx, OpUltra, "/interview/ultra", req)
}

// GenerateSummary asks the service to build a textual summary. The response
// body is discarded.
func (c *Client) GenerateSummary(ctx context.Context, req SummaryRequest) error {
	_, err := c.post(ctx, OpSummary, "/summaries", req)
	return err
}

// post sends body as JSON and decodes the response into a generic value.
func (c *Client) post(ctx context.Context, op, path string, body any) (any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("reasoning: %s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("reasoning: %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reasoning: %s: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, decodeAPIError(op, res.StatusCode, data)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reasoning: %s: read response: %w", op, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("reasoning: %s: decode response: %w", op, err)
	}
	return out, nil
}

// decodeAPIError extracts a code and message from the error shapes the
// service is known to emit: {"error":{"code","message"}}, {"error":"..."},
// {"code","message"} and {"detail":"..."}.
func decodeAPIError(op string, status int, data []byte) *APIError {
	apiErr := &APIError{Op: op, StatusCode: status}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}

	switch e := body["error"].(type) {
	case map[string]any:
		apiErr.Code, _ = e["code"].(string)
		apiErr.Message, _ = e["message"].(string)
	case string:
		apiErr.Message = e
	}
	if apiErr.Code == "" {
		apiErr.Code, _ = body["code"].(string)
	}
	if apiErr.Message == "" {
		apiErr.Message, _ = body["message"].(string)
	}
	if apiErr.Message == "" {
		apiErr.Message, _ = body["detail"].(string)
	}
	return apiErr
}
