package grader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/neelsabhaya/lumina.ai/internal/domain"
)

// newOracleServer returns an httptest server that answers the chat completion
// endpoint with the given message content.
func newOracleServer(t *testing.T, content string, capture *[]map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			var req struct {
				Messages []map[string]any `json:"messages"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("Failed to decode oracle request: %v", err)
			}
			*capture = req.Messages
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("Failed to encode oracle response: %v", err)
		}
	}))
}

func newTestClient(t *testing.T, baseURL string, timeout time.Duration) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Timeout: timeout,
	}, nil)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestOpenAIClientGrade(t *testing.T) {
	var captured []map[string]any
	srv := newOracleServer(t, "```json\n{\"score\": 45, \"feedback\": \"Sharper intent\"}\n```", &captured)
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "Write a blog post about cats"},
		{Role: domain.RoleAssistant, Content: "Sharper intent"},
	}

	got, err := client.Grade(context.Background(), "make it funnier", history, "General")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got.Score != 45 || got.Feedback != "Sharper intent" {
		t.Errorf("Unexpected result: %+v", got)
	}

	// system instruction + 2 history turns + latest prompt
	if len(captured) != 4 {
		t.Fatalf("Expected 4 outbound messages, got %d", len(captured))
	}
	if captured[0]["role"] != "system" {
		t.Errorf("Expected system message first, got %v", captured[0]["role"])
	}
	if captured[3]["content"] != "make it funnier" {
		t.Errorf("Expected latest prompt last, got %v", captured[3]["content"])
	}
}

func TestOpenAIClientGradeContractViolation(t *testing.T) {
	srv := newOracleServer(t, "definitely not json", nil)
	defer srv.Close()

	client := newTestClient(t, srv.URL, time.Second)

	got, err := client.Grade(context.Background(), "hello", nil, "General")
	if err != nil {
		t.Fatalf("Contract violations must not surface errors, got %v", err)
	}
	if !got.IsFallback() {
		t.Errorf("Expected fallback result, got %+v", got)
	}
}

func TestOpenAIClientGradeTransportFailure(t *testing.T) {
	srv := newOracleServer(t, "{}", nil)
	srv.Close() // unreachable from the start

	client := newTestClient(t, srv.URL, time.Second)

	got, err := client.Grade(context.Background(), "hello", nil, "General")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Expected ErrUnreachable, got %v", err)
	}
	if !got.IsFallback() {
		t.Errorf("Expected fallback result, got %+v", got)
	}
}

func TestOpenAIClientGradeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, 10*time.Millisecond)

	got, err := client.Grade(context.Background(), "hello", nil, "General")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Expected ErrUnreachable on timeout, got %v", err)
	}
	if !got.IsFallback() {
		t.Errorf("Expected fallback result, got %+v", got)
	}
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient(OpenAIConfig{}, nil); err == nil {
		t.Error("Expected error for missing API key")
	}
}
