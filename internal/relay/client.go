// Package relay is the HTTP client for the report relay.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ReportPayload is the body of POST /send-report in its CSV form.
type ReportPayload struct {
	CSVData  string `json:"csvData"`
	FileName string `json:"fileName"`
	Photo    string `json:"photo,omitempty"` // data URL
}

// SurveyPayload is the body of POST /send-survey.
type SurveyPayload struct {
	ReportID string `json:"reportId,omitempty"`
	CSVData  string `json:"csvData"`
	FileName string `json:"fileName,omitempty"`
}

// Response is the JSON body the relay answers with.
type Response struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// StatusError is returned when the relay answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Detail != "" {
		return fmt.Sprintf("relay returned %d: %s: %s", e.StatusCode, msg, e.Detail)
	}
	return fmt.Sprintf("relay returned %d: %s", e.StatusCode, msg)
}

// Client talks to a relay at a fixed base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client. A zero timeout leaves requests bounded only by
// their context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the relay address the client posts to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SendReport posts a CSV report.
func (c *Client) SendReport(ctx context.Context, p ReportPayload) (*Response, error) {
	return c.post(ctx, "/send-report", p)
}

// SendSurvey posts a survey.
func (c *Client) SendSurvey(ctx context.Context, p SurveyPayload) (*Response, error) {
	return c.post(ctx, "/send-survey", p)
}

// Ping calls GET /test and succeeds on a 2xx answer.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/test", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	_, err = c.do(req)
	return err
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out Response
	// Non-JSON bodies are tolerated; the status code decides the outcome.
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if out.Message == "" && out.Error == "" {
			out.Message = strings.TrimSpace(string(raw))
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: out.Message, Detail: out.Error}
	}
	return &out, nil
}
