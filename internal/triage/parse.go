package triage

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty classifier response")

var fencedBlock = regexp.MustCompile("(?is)^```(?:json)?\\s*(.*?)\\s*```")

// ParseResult decodes model output into a TriageResult, tolerating a fenced code
// block around the JSON object.
func ParseResult(raw string) (*domain.TriageResult, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, ErrEmptyResponse
	}
	if strings.HasPrefix(text, "```") {
		if match := fencedBlock.FindStringSubmatch(text); match != nil {
			text = strings.TrimSpace(match[1])
		}
	}

	var result domain.TriageResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, fmt.Errorf("parse classifier response: %w", err)
	}
	return &result, nil
}
