package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"codepad/apps/editor/internal/domain"
	"codepad/apps/editor/internal/metrics"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultTimeout = 120 * time.Second

	SystemPrompt = "You are a Python programming assistant. When you return code, wrap it in ```python fenced blocks. Always give clear, direct answers."

	ErrorCodeMissingArgument       = "missing_argument"
	ErrorCodeProviderNotConfigured = "provider_not_configured"
	ErrorCodeTimeout               = "timeout"
	ErrorCodeConnection            = "connection_error"
	ErrorCodeUpstream              = "upstream_error"
	ErrorCodeInvalidReply          = "invalid_reply"
	ErrorCodeCancelled             = "cancelled"

	maxReplyBytes = 2 * 1024 * 1024
)

type RunnerError struct {
	Code    string
	Message string
	// Status is the upstream HTTP status for upstream_error.
	Status int
	Err    error
}

func (e *RunnerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (e *RunnerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type GenerateConfig struct {
	Model   string
	APIKey  string
	BaseURL string
	Headers map[string]string
	Timeout time.Duration
}

type ChatRequest struct {
	Message string
	Code    string
	Model   string
}

type ChatReply struct {
	Text       string
	Model      string
	CodeBlocks []domain.CodeBlock
	HTML       string
}

type Runner struct {
	httpClient *http.Client
}

func New() *Runner {
	return NewWithHTTPClient(nil)
}

// NewWithHTTPClient uses client for outbound calls. Deadlines come from the
// per-call context, so the client itself should carry no Timeout.
func NewWithHTTPClient(client *http.Client) *Runner {
	if client == nil {
		client = &http.Client{}
	}
	return &Runner{httpClient: client}
}

// BuildPrompt joins the user's message with optional code context.
func BuildPrompt(message, code string) string {
	if code == "" {
		return message
	}
	return message + "\n\nCode:\n" + code
}

// Chat sends one chat-completion call and returns the first choice verbatim.
// Nothing is sent when the message is empty or the provider is not
// configured. ctx cancellation aborts the call with code "cancelled".
func (r *Runner) Chat(ctx context.Context, req ChatRequest, cfg GenerateConfig) (ChatReply, error) {
	reply, err := r.chat(ctx, req, cfg)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var runnerErr *RunnerError
		if errors.As(err, &runnerErr) {
			outcome = runnerErr.Code
		}
	}
	metrics.RecordChat(outcome)
	return reply, err
}

func (r *Runner) chat(ctx context.Context, req ChatRequest, cfg GenerateConfig) (ChatReply, error) {
	if req.Message == "" {
		return ChatReply{}, &RunnerError{Code: ErrorCodeMissingArgument, Message: "Message required"}
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = strings.TrimSpace(cfg.Model)
	}
	if model == "" {
		return ChatReply{}, &RunnerError{Code: ErrorCodeProviderNotConfigured, Message: "no model selected"}
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return ChatReply{}, &RunnerError{Code: ErrorCodeProviderNotConfigured, Message: "api_key is not configured"}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	payload := chatCompletionRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: BuildPrompt(req.Message, req.Code)},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ChatReply{}, &RunnerError{Code: ErrorCodeInvalidReply, Message: "failed to encode provider request", Err: err}
	}

	requestCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatReply{}, &RunnerError{Code: ErrorCodeConnection, Message: "failed to create provider request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range cfg.Headers {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k == "" || v == "" {
			continue
		}
		httpReq.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return ChatReply{}, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	metrics.ObserveChatUpstream(time.Since(started))
	if err != nil {
		return ChatReply{}, classifyTransportError(ctx, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return ChatReply{}, &RunnerError{
			Code:    ErrorCodeUpstream,
			Message: upstreamErrorMessage(resp.StatusCode, respBody),
			Status:  resp.StatusCode,
		}
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return ChatReply{}, &RunnerError{Code: ErrorCodeInvalidReply, Message: "provider response is not valid json", Err: err}
	}
	if len(completion.Choices) == 0 {
		return ChatReply{}, &RunnerError{Code: ErrorCodeInvalidReply, Message: "provider response has no choices"}
	}
	text := extractContent(completion.Choices[0].Message.Content)

	replyModel := completion.Model
	if replyModel == "" {
		replyModel = model
	}
	return ChatReply{
		Text:       text,
		Model:      replyModel,
		CodeBlocks: ExtractCodeBlocks(text),
		HTML:       RenderHTML(text),
	}, nil
}

// classifyTransportError maps a failed round trip to a RunnerError. The
// caller's ctx decides between "cancelled" and our own deadline.
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &RunnerError{Code: ErrorCodeCancelled, Message: "Request cancelled", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RunnerError{Code: ErrorCodeTimeout, Message: "Request timeout", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &RunnerError{Code: ErrorCodeTimeout, Message: "Request timeout", Err: err}
	}
	return &RunnerError{Code: ErrorCodeConnection, Message: "Connection error", Err: err}
}

// upstreamErrorMessage prefers error.message, then a string error field,
// then the raw body.
func upstreamErrorMessage(status int, body []byte) string {
	var parsed struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(parsed.Error, &nested); err == nil && strings.TrimSpace(nested.Message) != "" {
			return nested.Message
		}
		var plain string
		if err := json.Unmarshal(parsed.Error, &plain); err == nil && strings.TrimSpace(plain) != "" {
			return plain
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fmt.Sprintf("API Error %d", status)
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// extractContent accepts a plain string or a list of typed text parts.
func extractContent(raw json.RawMessage) string {
	var direct string
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct
	}
	var arr []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &arr); err == nil {
		parts := make([]string, 0, len(arr))
		for _, item := range arr {
			if item.Type != "text" || item.Text == "" {
				continue
			}
			parts = append(parts, item.Text)
		}
		return strings.Join(parts, "\n")
	}
	return ""
}
