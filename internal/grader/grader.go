// Package grader adapts the external evaluation oracle. It sends the
// conversation to an OpenAI-compatible chat endpoint and normalizes the
// untrusted response into a validated score/feedback pair.
package grader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/neelsabhaya/lumina.ai/internal/domain"
)

// ErrUnreachable marks transport-level oracle failures (connection refused,
// timeout, cancelled context). Contract violations in the response body are
// never surfaced as errors; they are masked by the fallback result.
var ErrUnreachable = errors.New("grading oracle unreachable")

const (
	fallbackScore    = 10
	fallbackFeedback = "System Error"
)

// systemInstruction is the fixed grader contract sent with every request.
const systemInstruction = `You are the Lumina.ai Grader. Analyze the prompt and return ONLY a JSON object: { "score": number, "feedback": "string" }. Feedback must be the re-architected version of the user's messy intent.`

// Result is the validated output of a grading call. Score is always in
// [0,100].
type Result struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// Fallback is the deterministic result substituted whenever the oracle
// response cannot be trusted. The low-but-nonzero score keeps the
// conversation usable when the oracle misbehaves.
func Fallback() Result {
	return Result{Score: fallbackScore, Feedback: fallbackFeedback}
}

// IsFallback reports whether r carries the fallback values.
func (r Result) IsFallback() bool {
	return r.Score == fallbackScore && r.Feedback == fallbackFeedback
}

// Client grades a prompt against the accumulated turn history. A non-nil
// error means the oracle could not be reached at all; the returned Result is
// then the fallback and callers decide whether to apply or discard it.
type Client interface {
	Grade(ctx context.Context, prompt string, history []domain.Message, mode string) (Result, error)
}

// rawResult decodes the untrusted oracle payload. Pointer fields distinguish
// "missing" from zero values.
type rawResult struct {
	Score    *float64 `json:"score"`
	Feedback *string  `json:"feedback"`
}

// stripFences removes markdown code-fence wrapping that models habitually add
// around JSON payloads.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// parseResult validates an oracle response body against the two-field JSON
// contract. Both fields must be present; the score is clamped into [0,100].
func parseResult(body string) (Result, error) {
	var raw rawResult
	if err := json.Unmarshal([]byte(stripFences(body)), &raw); err != nil {
		return Result{}, fmt.Errorf("decode oracle response: %w", err)
	}
	if raw.Score == nil {
		return Result{}, errors.New("oracle response missing score")
	}
	if raw.Feedback == nil {
		return Result{}, errors.New("oracle response missing feedback")
	}
	return Result{
		Score:    clampScore(int(*raw.Score)),
		Feedback: *raw.Feedback,
	}, nil
}
