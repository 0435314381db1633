package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/you/sqlbridge/internal/failure"
	"github.com/you/sqlbridge/internal/schema"
)

type fakeCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

var candidates = []schema.TableInfo{
	{TableName: "users", FileName: "public.users", Description: "registered users"},
	{TableName: "orders", FileName: "public.orders"},
}

func TestSelectTable(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string // empty means no match
	}{
		{"plain_json", `{"tableName": "orders", "fileName": "public.orders", "description": ""}`, "orders"},
		{"fenced_json", "```json\n{\"tableName\": \"users\"}\n```", "users"},
		{"uppercase_fence_tag", "```JSON\n{\"tableName\":\"users\"}\n```", "users"},
		{"prose_before_fence", "Here is the best match:\n```json\n{\"tableName\": \"orders\"}\n```", "orders"},
		{"case_insensitive", `{"tableName": "USERS"}`, "users"},
		{"null", "null", ""},
		{"prose", "The best table is probably orders.", ""},
		{"truncated_json", `{"tableName": "orders"`, ""},
		{"unknown_table", `{"tableName": "invoices"}`, ""},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCompleter{reply: tt.reply}
			got, err := SelectTable(context.Background(), fc, "which orders shipped?", candidates)
			if err != nil {
				t.Fatalf("SelectTable() error = %v", err)
			}
			if tt.want == "" {
				if got != nil {
					t.Fatalf("SelectTable() = %+v, want nil", got)
				}
				return
			}
			if got == nil || got.TableName != tt.want {
				t.Fatalf("SelectTable() = %+v, want %s", got, tt.want)
			}
			if len(fc.prompts) != 1 || !strings.Contains(fc.prompts[0], "which orders shipped?") {
				t.Fatalf("unexpected prompts: %v", fc.prompts)
			}
		})
	}
}

func TestSelectTableReturnsCanonicalEntry(t *testing.T) {
	fc := &fakeCompleter{reply: `{"tableName": "users", "description": "made up"}`}
	got, err := SelectTable(context.Background(), fc, "q", candidates)
	if err != nil || got == nil {
		t.Fatalf("SelectTable() = %v, %v", got, err)
	}
	if got.Description != "registered users" {
		t.Fatalf("expected the reflected entry, got %+v", got)
	}
}

func TestSelectTablePropagatesCompletionFailure(t *testing.T) {
	fc := &fakeCompleter{err: failure.New(failure.Completion, "complete", errors.New("quota exceeded"))}
	got, err := SelectTable(context.Background(), fc, "q", candidates)
	if err == nil || got != nil {
		t.Fatalf("SelectTable() = %v, %v; want error", got, err)
	}
	if !failure.Is(err, failure.Completion) {
		t.Fatalf("kind = %v", failure.KindOf(err))
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct{ in, want string }{
		{"```sql\nSELECT 1;\n```", "SELECT 1;"},
		{"```\nSELECT 1\n```", "SELECT 1"},
		{"```SELECT 1```", "SELECT 1"},
		{"```SELECT *\nFROM t\n```", "SELECT *\nFROM t"},
		{"  SELECT 2  ", "SELECT 2"},
		{"```SQL\nSELECT 1\n```", "SELECT 1"},
		{"```Sql\nSELECT 1\n```", "SELECT 1"},
		{"```SELECT\n* FROM t\n```", "SELECT\n* FROM t"},
	}
	for _, tt := range tests {
		if got := StripCodeFence(tt.in); got != tt.want {
			t.Fatalf("StripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func mockOpenAI(t *testing.T, status int, content string) *httptest.Server {
	t.Helper()
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_exceeded"}}`))
			return
		}
		resp := map[string]any{
			"id":      "mock",
			"object":  "chat.completion",
			"created": 0,
			"model":   "mock",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIComplete(t *testing.T) {
	srv := mockOpenAI(t, http.StatusOK, "  SELECT 1  \n")
	c := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "mock"})

	got, err := c.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got != "SELECT 1" {
		t.Fatalf("Complete() = %q", got)
	}
}

func TestOpenAICompleteQuotaFailure(t *testing.T) {
	srv := mockOpenAI(t, http.StatusTooManyRequests, "")
	c := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "mock"})

	_, err := c.Complete(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected an error")
	}
	var fe *failure.Error
	if !errors.As(err, &fe) || fe.Kind != failure.Completion {
		t.Fatalf("expected completion failure, got %v", err)
	}
	if fe.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("StatusCode = %d", fe.StatusCode)
	}
}

func TestOpenAICompleteUnreachable(t *testing.T) {
	c := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: "http://127.0.0.1:1/v1", Model: "mock"})
	_, err := c.Complete(context.Background(), "prompt")
	if !failure.Is(err, failure.Completion) {
		t.Fatalf("expected completion failure, got %v", err)
	}
}

func TestParseSelectionKinds(t *testing.T) {
	if got, err := parseSelection("null", candidates); got != nil || err != nil {
		t.Fatalf("null reply = %v, %v", got, err)
	}
	for _, reply := range []string{"orders, probably", `{"tableName": "invoices"}`} {
		_, err := parseSelection(reply, candidates)
		if !failure.Is(err, failure.MalformedResponse) {
			t.Fatalf("parseSelection(%q) kind = %v", reply, failure.KindOf(err))
		}
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	got := truncate("ééé", 3)
	if !utf8.ValidString(got) || got != "é…" {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("abc", 5); got != "abc" {
		t.Fatalf("truncate short = %q", got)
	}
}
