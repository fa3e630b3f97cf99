package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// internalSecretHeader authenticates calls to the internal function API.
const internalSecretHeader = "X-Internal-Secret"

// CalendarClient talks to the shared internal function API that backs
// the calendar tools. The API is a black box: it returns a sentence
// ready to speak to the caller.
type CalendarClient struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewCalendarClient creates a calendar API client.
func NewCalendarClient(baseURL, secret string, httpClient *http.Client) *CalendarClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CalendarClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secret:     strings.TrimSpace(secret),
		httpClient: httpClient,
	}
}

// Configured reports whether the client has an endpoint and secret.
func (c *CalendarClient) Configured() bool {
	return c != nil && c.baseURL != "" && c.secret != ""
}

type functionCallRequest struct {
	OrganizationID string          `json:"organizationId"`
	AssistantID    string          `json:"assistantId"`
	FunctionName   string          `json:"functionName"`
	Arguments      json.RawMessage `json:"arguments"`
}

type functionCallResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Call forwards a function invocation and returns the caller-facing
// message. Any transport failure or unsuccessful response surfaces as
// an error; the dispatcher maps it to a fallback sentence.
func (c *CalendarClient) Call(ctx context.Context, call *CallContext, functionName string, args json.RawMessage) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("calendar api is not configured")
	}
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	body, err := json.Marshal(functionCallRequest{
		OrganizationID: call.OrganizationID,
		AssistantID:    call.AssistantID,
		FunctionName:   functionName,
		Arguments:      args,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/functions/call", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalSecretHeader, c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("function api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var decoded functionCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !decoded.Success {
		return "", fmt.Errorf("function %q reported failure: %s", functionName, decoded.Message)
	}
	return decoded.Message, nil
}
