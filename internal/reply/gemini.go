package reply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/student-support/internal/config"
	"github.com/spec-kit/student-support/internal/domain"
)

// GeminiClient calls the Gemini generateContent REST endpoint.
type GeminiClient struct {
	apiKey       string
	model        string
	baseURL      string
	timeout      time.Duration
	historyTurns int
}

// NewGeminiClient builds a client from configuration.
func NewGeminiClient(cfg config.ReplyConfig) *GeminiClient {
	return &GeminiClient{
		apiKey:       cfg.GeminiAPIKey,
		model:        cfg.Model,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		timeout:      cfg.Timeout(),
		historyTurns: cfg.HistoryTurns,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateReply asks the model for a short reply. It returns "" when the model yields no text.
func (g *GeminiClient) GenerateReply(ctx context.Context, thread domain.Thread, history []domain.Message, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	system, turns := BuildConversation(thread, history, text, g.historyTurns)
	body := geminiRequest{SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: system}}}}
	for _, turn := range turns {
		body.Contents = append(body.Contents, geminiContent{Role: turn.Role, Parts: []geminiPart{{Text: turn.Text}}})
	}

	timeout := g.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout <= 0 {
			timeout = remaining
		}
	}

	agent := fiber.Post(g.endpoint())
	agent.Set("x-goog-api-key", g.apiKey)
	agent.JSON(body)
	if timeout > 0 {
		agent.Timeout(timeout)
	}
	if err := agent.Parse(); err != nil {
		return "", fmt.Errorf("prepare gemini request: %w", err)
	}

	status, raw, errs := agent.Bytes()
	if len(errs) > 0 {
		return "", fmt.Errorf("gemini request: %w", errors.Join(errs...))
	}

	var resp geminiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode gemini response (status %d): %w", status, err)
	}
	if status != http.StatusOK {
		if resp.Error != nil {
			return "", fmt.Errorf("gemini returned %d: %s", status, resp.Error.Message)
		}
		return "", fmt.Errorf("gemini returned %d", status)
	}

	for _, candidate := range resp.Candidates {
		var b strings.Builder
		for _, part := range candidate.Content.Parts {
			b.WriteString(part.Text)
		}
		if reply := strings.TrimSpace(b.String()); reply != "" {
			return reply, nil
		}
	}
	return "", nil
}

func (g *GeminiClient) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
}
