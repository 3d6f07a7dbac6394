package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/neelsabhaya/lumina.ai/internal/domain"
	"github.com/neelsabhaya/lumina.ai/internal/engine"
	"github.com/neelsabhaya/lumina.ai/internal/grader"
	"github.com/neelsabhaya/lumina.ai/internal/identity"
)

// stubGrader returns a fixed result for every evaluation.
type stubGrader struct {
	result grader.Result
	err    error
}

func (g *stubGrader) Grade(_ context.Context, _ string, _ []domain.Message, _ string) (grader.Result, error) {
	return g.result, g.err
}

// stubRepo is a minimal in-memory store.Repository for handler tests.
type stubRepo struct {
	mu      sync.Mutex
	seq     int
	prompts map[string]*domain.PromptRecord
	users   map[string]*domain.User
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		prompts: make(map[string]*domain.PromptRecord),
		users:   make(map[string]*domain.User),
	}
}

func (s *stubRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID], nil
}

func (s *stubRepo) UpsertUser(_ context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *user
	s.users[user.UserID] = &copied
	return nil
}

func (s *stubRepo) UpdateLastSeen(_ context.Context, _ string, _ time.Time) error { return nil }

func (s *stubRepo) CreatePrompt(_ context.Context, record *domain.PromptRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	record.ID = "rec-" + strconv.Itoa(s.seq)
	record.CreatedAt = time.Now()
	copied := *record
	s.prompts[record.ID] = &copied
	return record.ID, nil
}

func (s *stubRepo) GetPrompt(_ context.Context, ownerID, id string) (*domain.PromptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.prompts[id]
	if !ok || record.OwnerID != ownerID {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (s *stubRepo) UpdatePrompt(_ context.Context, ownerID, id string, upd domain.PromptUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.prompts[id]; ok && record.OwnerID == ownerID {
		record.ArchitectedPrompt = upd.ArchitectedPrompt
		record.Score = upd.Score
		record.ChatHistory = upd.ChatHistory
	}
	return nil
}

func (s *stubRepo) ListPrompts(_ context.Context, ownerID string, limit int) ([]*domain.PromptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var records []*domain.PromptRecord
	for _, r := range s.prompts {
		if r.OwnerID == ownerID {
			copied := *r
			records = append(records, &copied)
		}
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *stubRepo) DeletePrompt(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.prompts[id]; ok && record.OwnerID == ownerID {
		delete(s.prompts, id)
	}
	return nil
}

func (s *stubRepo) Ping(_ context.Context) error { return nil }
func (s *stubRepo) Close() error                 { return nil }

const testOwnerID = "owner_0123456789abcdef0123456789abcdef"

func newTestRouter(g grader.Client, repo *stubRepo, watcher *identity.Watcher) http.Handler {
	engines := engine.NewManager(g, repo, nil, 10, nil)
	base := NewHandler(repo, engines, "http://localhost:3000")

	r := chi.NewRouter()
	r.Use(identity.Middleware())
	NewSessionHandler(base).RegisterRoutes(r)
	if watcher != nil {
		NewAuthHandler(base, watcher).RegisterRoutes(r)
	}
	return r
}

func authedRequest(method, target string, body string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.AddCookie(&http.Cookie{Name: identity.OwnerCookieName, Value: testOwnerID})
	r.Header.Set(identity.SessionHeaderName, "tab-1")
	return r
}

func TestGradeRequiresSignIn(t *testing.T) {
	router := newTestRouter(&stubGrader{}, newStubRepo(), nil)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/grade", strings.NewReader(`{"prompt":"hi"}`))
	router.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestGradeRefiningTurn(t *testing.T) {
	g := &stubGrader{result: grader.Result{Score: 45, Feedback: "Needs more specificity"}}
	router := newTestRouter(g, newStubRepo(), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/grade", `{"prompt":"Write a blog post about cats","mode":"General"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Result struct {
			Score     int    `json:"score"`
			Feedback  string `json:"feedback"`
			Completed bool   `json:"completed"`
		} `json:"result"`
		Session sessionResponse `json:"session"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Result.Score != 45 || resp.Result.Completed {
		t.Errorf("Unexpected result: %+v", resp.Result)
	}
	if resp.Session.Status != domain.StatusRefining {
		t.Errorf("Expected status REFINING, got %s", resp.Session.Status)
	}
	if len(resp.Session.Messages) != 2 {
		t.Errorf("Expected 2 messages, got %d", len(resp.Session.Messages))
	}
	if resp.Session.DisplayOutput {
		t.Error("Output must not be displayable below the display threshold")
	}
}

func TestGradeEmptyPromptRejected(t *testing.T) {
	g := &stubGrader{result: grader.Result{Score: 45, Feedback: "n/a"}}
	router := newTestRouter(g, newStubRepo(), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/grade", `{"prompt":"   "}`))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestGradeCompletionPersistsRecord(t *testing.T) {
	g := &stubGrader{result: grader.Result{Score: 100, Feedback: "Role, task, constraints, format. Ship it."}}
	repo := newStubRepo()
	router := newTestRouter(g, repo, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/grade", `{"prompt":"Act as an expert tech blogger...","mode":"Technical"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	records, _ := repo.ListPrompts(context.Background(), testOwnerID, 10)
	if len(records) != 1 {
		t.Fatalf("Expected 1 persisted record, got %d", len(records))
	}
	if records[0].Score != 100 {
		t.Errorf("Expected persisted score 100, got %d", records[0].Score)
	}

	var resp struct {
		Session sessionResponse `json:"session"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Session.Status != domain.StatusComplete {
		t.Errorf("Expected status COMPLETE, got %s", resp.Session.Status)
	}
	if !resp.Session.DisplayOutput {
		t.Error("Completed session output must be displayable")
	}
}

func TestRestoreUnknownRecord(t *testing.T) {
	router := newTestRouter(&stubGrader{}, newStubRepo(), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/history/missing/restore", ""))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestRestoreAndEndSession(t *testing.T) {
	repo := newStubRepo()
	id, err := repo.CreatePrompt(context.Background(), &domain.PromptRecord{
		OwnerID:           testOwnerID,
		OriginalText:      "Write a blog post about cats",
		ArchitectedPrompt: "Act as an expert...",
		Score:             100,
		Title:             "Write a blog...",
	})
	if err != nil {
		t.Fatalf("CreatePrompt failed: %v", err)
	}

	router := newTestRouter(&stubGrader{}, repo, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/history/"+id+"/restore", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("Restore failed with status %d: %s", w.Code, w.Body.String())
	}

	var restored sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&restored); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if restored.ID != id || restored.Score != 100 {
		t.Errorf("Unexpected restored session: %+v", restored)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/session/end", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("End failed with status %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodGet, "/api/session", ""))
	var ended sessionResponse
	if err := json.NewDecoder(w.Body).Decode(&ended); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if ended.Status != domain.StatusEnded || len(ended.Messages) != 0 {
		t.Errorf("Expected an ended empty session, got %+v", ended)
	}
}

func TestDeleteHistory(t *testing.T) {
	repo := newStubRepo()
	id, _ := repo.CreatePrompt(context.Background(), &domain.PromptRecord{
		OwnerID: testOwnerID,
		Title:   "Old prompt...",
	})

	router := newTestRouter(&stubGrader{}, repo, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodDelete, "/api/history/"+id, ""))
	if w.Code != http.StatusOK {
		t.Fatalf("Delete failed with status %d", w.Code)
	}

	if record, _ := repo.GetPrompt(context.Background(), testOwnerID, id); record != nil {
		t.Error("Record should be gone after delete")
	}
}

func TestListHistoryEmpty(t *testing.T) {
	router := newTestRouter(&stubGrader{}, newStubRepo(), nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodGet, "/api/history", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp struct {
		History []*domain.PromptRecord `json:"history"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.History == nil || len(resp.History) != 0 {
		t.Errorf("Expected an empty (non-null) history, got %+v", resp.History)
	}
}

func TestSignInIssuesCookie(t *testing.T) {
	repo := newStubRepo()
	router := newTestRouter(&stubGrader{}, repo, identity.NewWatcher())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/signin", nil)
	router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var issued string
	for _, c := range w.Result().Cookies() {
		if c.Name == identity.OwnerCookieName {
			issued = c.Value
		}
	}
	if !identity.IsValidOwnerID(issued) {
		t.Fatalf("Expected a valid owner cookie, got %q", issued)
	}

	user, _ := repo.GetUser(context.Background(), issued)
	if user == nil {
		t.Error("Sign-in must upsert the owner record")
	}
}

func TestSignOutEndsOwnerSessions(t *testing.T) {
	watcher := identity.NewWatcher()
	events := watcher.Subscribe()
	router := newTestRouter(&stubGrader{}, newStubRepo(), watcher)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, authedRequest(http.MethodPost, "/api/auth/signout", ""))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	select {
	case event := <-events:
		if event.Type != identity.AuthSignedOut || event.OwnerID != testOwnerID {
			t.Errorf("Unexpected auth event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected a signed-out event")
	}

	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == identity.OwnerCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("Sign-out must clear the owner cookie")
	}
}
