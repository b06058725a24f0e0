package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOllamaClient_Complete(t *testing.T) {
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatal(err)
		}
		_ = json.NewEncoder(w).Encode(generateResponse{
			Response: "  The answer is 42.\n",
			Done:     true,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "mistral:latest", 0.2, 10*time.Second)
	got, err := c.Complete(context.Background(), "What is the answer?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "The answer is 42." {
		t.Errorf("got %q", got)
	}
	if gotReq.Model != "mistral:latest" || gotReq.Stream {
		t.Errorf("request: %+v", gotReq)
	}
	if gotReq.Options.Temperature != 0.2 {
		t.Errorf("temperature: %f", gotReq.Options.Temperature)
	}
	if gotReq.Prompt != "What is the answer?" {
		t.Errorf("prompt: %q", gotReq.Prompt)
	}
}

func TestOllamaClient_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateResponse{Error: "model not loaded"})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "mistral:latest", 0, 10*time.Second)
	if _, err := c.Complete(context.Background(), "prompt"); err == nil {
		t.Error("expected error from error field")
	}
}

func TestOllamaClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "mistral:latest", 0, 10*time.Second)
	if _, err := c.Complete(context.Background(), "prompt"); err == nil {
		t.Error("expected error for HTTP 500")
	}
}

func TestOllamaClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "mistral:latest", 0, 10*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Complete(ctx, "prompt"); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestMockClient(t *testing.T) {
	m := &MockClient{Response: "canned"}
	got, err := m.Complete(context.Background(), "the prompt")
	if err != nil {
		t.Fatal(err)
	}
	if got != "canned" || m.LastPrompt != "the prompt" {
		t.Errorf("got %q, last prompt %q", got, m.LastPrompt)
	}
}
