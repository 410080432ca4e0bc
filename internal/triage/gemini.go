package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/config"
	"github.com/spec-kit/ticket-triage/internal/domain"
)

// Classifier turns ticket text into a TriageResult. A nil result with a nil error
// means the model answered but nothing usable could be extracted. A non-nil error
// is a transport failure worth retrying.
type Classifier interface {
	Analyze(ctx context.Context, title, description string) (*domain.TriageResult, error)
}

// GeminiClassifier calls the Gemini generateContent REST endpoint.
type GeminiClassifier struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewClassifier returns a Gemini-backed classifier, or a disabled one when no API key is set.
func NewClassifier(cfg config.ClassifierConfig, logger *zap.Logger) Classifier {
	if cfg.APIKey == "" {
		logger.Warn("GEMINI_API_KEY not provided; ticket enrichment disabled")
		return disabledClassifier{logger: logger}
	}
	return NewGeminiClassifier(cfg, &http.Client{Timeout: cfg.Timeout()}, logger)
}

// NewGeminiClassifier builds a client with an explicit HTTP client.
func NewGeminiClassifier(cfg config.ClassifierConfig, client *http.Client, logger *zap.Logger) *GeminiClassifier {
	return &GeminiClassifier{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  logger,
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
	SystemInstruction geminiContent          `json:"systemInstruction"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Analyze implements Classifier.
func (g *GeminiClassifier) Analyze(ctx context.Context, title, description string) (*domain.TriageResult, error) {
	title, description = strings.TrimSpace(title), strings.TrimSpace(description)
	if title == "" || description == "" {
		g.logger.Warn("classifier skipped: empty title or description")
		return nil, nil
	}

	payload := geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: userPrompt(title, description)}},
		}},
		GenerationConfig: geminiGenerationConfig{ResponseMimeType: "application/json"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, url.PathEscape(g.model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gemini read: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gemini request failed: %s", resp.Status)
	}

	var decoded geminiResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		g.logger.Error("malformed classifier envelope", zap.Error(err))
		return nil, nil
	}
	text := firstText(decoded)
	result, err := ParseResult(text)
	if err != nil {
		g.logger.Error("unusable classifier response", zap.Error(err), zap.String("content", preview(text, 500)))
		return nil, nil
	}
	return result, nil
}

func firstText(resp geminiResponse) string {
	for _, candidate := range resp.Candidates {
		var sb strings.Builder
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	return ""
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

type disabledClassifier struct {
	logger *zap.Logger
}

func (d disabledClassifier) Analyze(context.Context, string, string) (*domain.TriageResult, error) {
	d.logger.Debug("classifier disabled; skipping enrichment")
	return nil, nil
}
