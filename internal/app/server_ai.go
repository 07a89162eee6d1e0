package app

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"codepad/apps/editor/internal/domain"
	"codepad/apps/editor/internal/logging"
	"codepad/apps/editor/internal/repo"
	"codepad/apps/editor/internal/runner"
)

const (
	apiKeyEnv = "OPENROUTER_API_KEY"
	appTitle  = "Codepad"

	// statusClientClosedRequest is nginx's non-standard 499.
	statusClientClosedRequest = 499
)

type chatRequest struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Model     string `json:"model"`
	RequestID string `json:"request_id"`
}

type cancelRequest struct {
	RequestID string `json:"request_id"`
}

func (s *Server) aiChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}

	ctx, release := s.inflight.Begin(r.Context(), req.RequestID)
	defer release()

	reply, err := s.runner.Chat(ctx, runner.ChatRequest{
		Message: req.Message,
		Code:    req.Code,
		Model:   req.Model,
	}, s.generateConfig())
	if err != nil {
		status, code, message := mapRunnerError(err)
		failRequest(w, r, status, code, message, err)
		return
	}
	logging.WithContext(r.Context()).Debug("ai chat answered",
		zap.String("model", reply.Model),
		zap.Int("code_blocks", len(reply.CodeBlocks)),
	)
	writeJSON(w, http.StatusOK, domain.ChatResponse{
		Success:    true,
		Response:   reply.Text,
		Model:      reply.Model,
		CodeBlocks: reply.CodeBlocks,
		HTML:       reply.HTML,
	})
}

func (s *Server) aiCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		invalidJSON(w, r, err)
		return
	}
	id := strings.TrimSpace(req.RequestID)
	if id == "" {
		failRequest(w, r, http.StatusBadRequest, "missing_argument", "request_id is required", nil)
		return
	}
	if !s.inflight.Cancel(id) {
		failRequest(w, r, http.StatusNotFound, "request_not_found", "no chat request in flight with that id", nil)
		return
	}
	writeJSON(w, http.StatusOK, domain.SuccessBody{Success: true})
}

// generateConfig snapshots the provider settings for one call.
func (s *Server) generateConfig() runner.GenerateConfig {
	var model, apiKey string
	s.store.Read(func(cfg *repo.EditorConfig) {
		model = cfg.SelectedModel
		apiKey = cfg.APIKey
	})
	return runner.GenerateConfig{
		Model:   model,
		APIKey:  resolveAPIKey(apiKey),
		BaseURL: s.cfg.UpstreamBaseURL,
		Headers: map[string]string{
			"HTTP-Referer": "http://localhost:" + s.cfg.Port,
			"X-Title":      appTitle,
		},
		Timeout: s.cfg.AITimeout(),
	}
}

func resolveAPIKey(configured string) string {
	if key := strings.TrimSpace(configured); key != "" {
		return key
	}
	return strings.TrimSpace(os.Getenv(apiKeyEnv))
}

func mapRunnerError(err error) (status int, code string, message string) {
	var runnerErr *runner.RunnerError
	if errors.As(err, &runnerErr) {
		switch runnerErr.Code {
		case runner.ErrorCodeMissingArgument, runner.ErrorCodeProviderNotConfigured:
			return http.StatusBadRequest, runnerErr.Code, runnerErr.Message
		case runner.ErrorCodeTimeout:
			return http.StatusGatewayTimeout, runnerErr.Code, runnerErr.Message
		case runner.ErrorCodeConnection:
			return http.StatusServiceUnavailable, runnerErr.Code, runnerErr.Message
		case runner.ErrorCodeUpstream:
			status := runnerErr.Status
			if status < http.StatusBadRequest {
				status = http.StatusBadGateway
			}
			return status, runnerErr.Code, runnerErr.Message
		case runner.ErrorCodeInvalidReply:
			return http.StatusBadGateway, runnerErr.Code, runnerErr.Message
		case runner.ErrorCodeCancelled:
			return statusClientClosedRequest, runnerErr.Code, runnerErr.Message
		default:
			return http.StatusInternalServerError, "runner_error", "runner execution failed"
		}
	}
	return http.StatusInternalServerError, "runner_error", "runner execution failed"
}
