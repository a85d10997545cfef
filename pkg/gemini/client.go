// Package gemini is a minimal client for the Generative Language REST API:
// model discovery and single-turn content generation.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	defaultTextTimeout  = 30 * time.Second
	defaultImageTimeout = 60 * time.Second

	// MethodGenerateContent is the capability a model must advertise to be
	// usable for generation.
	MethodGenerateContent = "generateContent"

	bodyExcerptBytes = 300
)

// Client performs Generative Language API operations. The API key is passed
// per call so one client can serve several credentials.
type Client interface {
	ListModels(ctx context.Context, apiKey string) ([]Model, error)
	GenerateContent(ctx context.Context, apiKey string, req GenerateRequest) (*GenerateResponse, error)
}

// Model is one entry of the discovery listing.
type Model struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName,omitempty"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

// ID returns the model name without the "models/" prefix.
func (m Model) ID() string {
	return strings.TrimPrefix(m.Name, "models/")
}

// SupportsGeneration reports whether the model advertises generateContent.
func (m Model) SupportsGeneration() bool {
	for _, method := range m.SupportedGenerationMethods {
		if method == MethodGenerateContent {
			return true
		}
	}
	return false
}

// InlineImage is a base64-encoded image sent alongside the prompt.
type InlineImage struct {
	MIMEType string
	Data     string
}

// GenerateRequest is a stateless single-turn generation request.
type GenerateRequest struct {
	Model  string
	Prompt string
	Image  *InlineImage // optional, at most one
}

// Usage holds token counts reported by the API.
type Usage struct {
	PromptTokens    int `json:"promptTokenCount"`
	CandidateTokens int `json:"candidatesTokenCount"`
	TotalTokens     int `json:"totalTokenCount"`
}

// GenerateResponse is a successful generation.
type GenerateResponse struct {
	Model        string
	Text         string
	FinishReason string
	Usage        Usage
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeouts sets the per-call timeouts for text-only and image requests.
func WithTimeouts(text, image time.Duration) Option {
	return func(c *httpClient) {
		if text > 0 {
			c.textTimeout = text
		}
		if image > 0 {
			c.imageTimeout = image
		}
	}
}

// WithRateLimit throttles calls to rps requests per second. Zero disables it.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	baseURL      string
	http         *http.Client
	textTimeout  time.Duration
	imageTimeout time.Duration
	limiter      *rate.Limiter
}

// NewClient creates a Generative Language API client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:      defaultBaseURL,
		http:         &http.Client{},
		textTimeout:  defaultTextTimeout,
		imageTimeout: defaultImageTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

type listModelsResponse struct {
	Models        []Model `json:"models"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

func (c *httpClient) ListModels(ctx context.Context, apiKey string) ([]Model, error) {
	const op = "list models"

	if err := c.wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Err: eris.Wrap(err, "rate limit")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.textTimeout)
	defer cancel()

	// A single page; 1000 is the API maximum.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models?pageSize=1000", nil)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create request")
	}
	req.Header.Set("x-goog-api-key", apiKey)

	status, body, err := c.do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Err: err}
	}
	if status != http.StatusOK {
		return nil, &Error{Kind: classifyStatus(status), Op: op, StatusCode: status, Detail: excerpt(body)}
	}

	var result listModelsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Op: op, StatusCode: status, Err: err}
	}
	return result.Models, nil
}

type generateContentRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generateContentResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  Usage           `json:"usageMetadata"`
}

type candidate struct {
	Content      *content `json:"content,omitempty"`
	FinishReason string   `json:"finishReason,omitempty"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

func (c *httpClient) GenerateContent(ctx context.Context, apiKey string, req GenerateRequest) (*GenerateResponse, error) {
	const op = "generate"
	modelID := strings.TrimPrefix(req.Model, "models/")
	if modelID == "" {
		return nil, eris.New("gemini: model is required")
	}

	parts := []part{{Text: req.Prompt}}
	timeout := c.textTimeout
	if req.Image != nil {
		parts = append(parts, part{InlineData: &inlineData{MIMEType: req.Image.MIMEType, Data: req.Image.Data}})
		timeout = c.imageTimeout
	}

	body, err := json.Marshal(generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "gemini: marshal request")
	}

	if err := c.wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Model: modelID, Err: eris.Wrap(err, "rate limit")}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/models/"+modelID+":generateContent", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "gemini: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	status, respBody, err := c.do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Model: modelID, Err: err}
	}
	if status != http.StatusOK {
		return nil, &Error{Kind: classifyStatus(status), Op: op, Model: modelID, StatusCode: status, Detail: excerpt(respBody)}
	}

	var result generateContentResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Op: op, Model: modelID, StatusCode: status, Err: err}
	}

	text, finish := candidateText(result.Candidates)
	if strings.TrimSpace(text) == "" {
		detail := "no candidates"
		if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
			detail = "blocked: " + result.PromptFeedback.BlockReason
		} else if finish != "" {
			detail = "finish reason: " + finish
		}
		return nil, &Error{Kind: KindEmptyResponse, Op: op, Model: modelID, StatusCode: status, Detail: detail}
	}

	return &GenerateResponse{
		Model:        modelID,
		Text:         text,
		FinishReason: finish,
		Usage:        result.UsageMetadata,
	}, nil
}

func (c *httpClient) do(req *http.Request) (int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, eris.Wrap(err, "read response")
	}
	return resp.StatusCode, body, nil
}

// candidateText joins the text parts of the first candidate that has any.
func candidateText(candidates []candidate) (string, string) {
	var finish string
	for _, cand := range candidates {
		if finish == "" {
			finish = cand.FinishReason
		}
		if cand.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
		if b.Len() > 0 {
			return b.String(), cand.FinishReason
		}
	}
	return "", finish
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// excerpt prefers the API's error message over the raw body. Either is capped
// at bodyExcerptBytes on a rune boundary.
func excerpt(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		return truncate(strings.TrimSpace(er.Error.Message))
	}
	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	if len(s) <= bodyExcerptBytes {
		return s
	}
	cut := bodyExcerptBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
