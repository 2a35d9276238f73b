package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGroqChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req groqRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "llama-3.3-70b-versatile" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	g := NewGroq("test-key", srv.URL, "llama-3.3-70b-versatile")
	reply, err := g.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "hi there" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestGroqChatErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGroq("bad-key", srv.URL, "m")
	if _, err := g.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}); err == nil {
		t.Fatal("Chat should fail on non-200")
	}
}

func TestGroqChatNoKey(t *testing.T) {
	g := NewGroq("", "", "m")
	if _, err := g.Chat(context.Background(), nil); err == nil {
		t.Fatal("Chat should fail without an API key")
	}
}

func TestGeminiSystemPriming(t *testing.T) {
	var captured geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/models/gemini-2.5-flash:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  ok  "}]}}]}`))
	}))
	defer srv.Close()

	g := NewGemini("test-key", srv.URL, "gemini-2.5-flash")
	reply, err := g.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
		{Role: RoleUser, Content: "how are you"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "ok" {
		t.Fatalf("reply = %q, want trimmed text", reply)
	}

	// System prompt becomes a two-turn priming exchange.
	if len(captured.Contents) != 5 {
		t.Fatalf("contents len = %d, want 5", len(captured.Contents))
	}
	if captured.Contents[0].Role != "user" || !strings.Contains(captured.Contents[0].Parts[0].Text, "SYSTEM INSTRUCTIONS:") {
		t.Fatalf("priming turn = %+v", captured.Contents[0])
	}
	if captured.Contents[1].Role != "model" {
		t.Fatalf("ack turn role = %s", captured.Contents[1].Role)
	}
	if captured.Contents[3].Role != "model" {
		t.Fatalf("assistant mapped to %s, want model", captured.Contents[3].Role)
	}
}

func TestGeminiRetriesOn503(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"recovered"}]}}]}`))
	}))
	defer srv.Close()

	g := NewGemini("k", srv.URL, "gemini-2.5-flash")
	reply, err := g.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "recovered" {
		t.Fatalf("reply = %q", reply)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Fatalf("calls = %d, want retry after 503", calls)
	}
}

func TestGeminiDoesNotRetryAuthErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	g := NewGemini("k", srv.URL, "gemini-2.5-flash")
	if _, err := g.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}); err == nil {
		t.Fatal("Chat should fail on 403")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("calls = %d, want exactly 1 for a permanent error", calls)
	}
}

// scripted is a Provider returning queued replies or errors.
type scripted struct {
	name    string
	replies []string
	errs    []error
	calls   int
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Chat(ctx context.Context, messages []Message) (string, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", errors.New("script exhausted")
}

func TestFailoverUsesFallback(t *testing.T) {
	primary := &scripted{name: "groq", errs: []error{errors.New("down")}}
	fallback := &scripted{name: "gemini", replies: []string{"from fallback"}}
	f := NewFailover([]Provider{primary, fallback}, 3, time.Minute, nil, nil)

	reply, err := f.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "from fallback" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestFailoverBreakerTripsAndSkips(t *testing.T) {
	down := errors.New("down")
	primary := &scripted{name: "groq", errs: []error{down, down, down}}
	fallback := &scripted{name: "gemini", replies: []string{"f1", "f2", "f3", "f4"}}
	f := NewFailover([]Provider{primary, fallback}, 3, time.Hour, nil, nil)

	for i := 0; i < 3; i++ {
		if _, err := f.Chat(context.Background(), nil); err != nil {
			t.Fatalf("Chat #%d: %v", i, err)
		}
	}
	// Breaker tripped: the primary must not be called again.
	before := primary.calls
	if _, err := f.Chat(context.Background(), nil); err != nil {
		t.Fatalf("Chat after trip: %v", err)
	}
	if primary.calls != before {
		t.Fatalf("tripped primary still called (%d -> %d)", before, primary.calls)
	}
}

func TestFailoverBreakerResetsAfterCooldown(t *testing.T) {
	down := errors.New("down")
	primary := &scripted{name: "groq", errs: []error{down, nil}, replies: []string{"", "primary back"}}
	f := NewFailover([]Provider{primary}, 1, 10*time.Millisecond, nil, nil)

	if _, err := f.Chat(context.Background(), nil); err == nil {
		t.Fatal("first call should fail")
	}
	time.Sleep(20 * time.Millisecond)
	reply, err := f.Chat(context.Background(), nil)
	if err != nil {
		t.Fatalf("Chat after cooldown: %v", err)
	}
	if reply != "primary back" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestFailoverAllFail(t *testing.T) {
	a := &scripted{name: "groq", errs: []error{errors.New("a down")}}
	b := &scripted{name: "gemini", errs: []error{errors.New("b down")}}
	f := NewFailover([]Provider{a, b}, 3, time.Minute, nil, nil)
	if _, err := f.Chat(context.Background(), nil); err == nil {
		t.Fatal("Chat should fail when every provider fails")
	}
}

type memStore struct {
	mu sync.Mutex
	m  map[string]string
}

func (s *memStore) SetKV(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]string)
	}
	s.m[key] = value
	return nil
}

func (s *memStore) GetKV(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func TestFailoverBreakerStatePersists(t *testing.T) {
	store := &memStore{}
	down := errors.New("down")

	primary := &scripted{name: "groq", errs: []error{down}}
	f := NewFailover([]Provider{primary}, 1, time.Hour, nil, nil)
	f.SetStore(store)
	if _, err := f.Chat(context.Background(), nil); err == nil {
		t.Fatal("first call should fail")
	}

	// A fresh chain over the same store starts tripped.
	fresh := &scripted{name: "groq", replies: []string{"should not run"}}
	f2 := NewFailover([]Provider{fresh}, 1, time.Hour, nil, nil)
	f2.SetStore(store)
	f2.LoadBreakerState(context.Background())
	if _, err := f2.Chat(context.Background(), nil); err == nil {
		t.Fatal("Chat should fail while breaker is tripped")
	}
	if fresh.calls != 0 {
		t.Fatalf("tripped provider called %d times", fresh.calls)
	}
}
