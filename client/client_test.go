package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

// captureStdout runs fn and returns what it wrote to os.Stdout.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	done := make(chan string)
	go func() {
		b, _ := io.ReadAll(r)
		done <- string(b)
	}()
	fn()
	w.Close()
	return <-done
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "hello", "hello"},
		{"int", 42, "42"},
		{"float", 3.14159, "3.14"},
		{"whole_float", float64(12), "12"},
		{"bool_true", true, "true"},
		{"bool_false", false, "false"},
		{"empty_string", "", ""},
		{"zero_int", 0, "0"},
		{"negative", -5, "-5"},
		{"object", map[string]any{"a": float64(1)}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatValue(tt.value)
			if got != tt.want {
				t.Fatalf("formatValue(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestGetenv(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		def    string
		setVal string
		want   string
	}{
		{name: "existing_env_var", key: "TEST_VAR_EXISTS", def: "default", setVal: "custom_value", want: "custom_value"},
		{name: "missing_env_var_uses_default", key: "TEST_VAR_MISSING", def: "default_value", want: "default_value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setVal != "" {
				t.Setenv(tt.key, tt.setVal)
			}
			got := getenv(tt.key, tt.def)
			if got != tt.want {
				t.Fatalf("getenv(%q, %q) = %q, want %q", tt.key, tt.def, got, tt.want)
			}
		})
	}
}

func TestPrintTable(t *testing.T) {
	out := captureStdout(t, func() {
		printTable([]any{
			map[string]any{"id": float64(1), "name": "test1"},
			map[string]any{"id": float64(2), "email": "a@b.test"},
		})
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got:\n%s", out)
	}
	if fields := strings.Fields(lines[0]); strings.Join(fields, ",") != "email,id,name" {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.Contains(lines[3], "a@b.test") || !strings.Contains(lines[2], "test1") {
		t.Fatalf("unexpected rows:\n%s", out)
	}

	if empty := captureStdout(t, func() { printTable([]any{}) }); empty != "" {
		t.Fatalf("empty rows printed %q", empty)
	}
}

func TestPrintCSV(t *testing.T) {
	out := captureStdout(t, func() {
		printCSV([]any{
			map[string]any{"id": float64(1), "name": "test,with,commas", "desc": `say "hi"`},
		})
	})
	want := "desc,id,name\n\"say \"\"hi\"\"\",1,\"test,with,commas\"\n"
	if out != want {
		t.Fatalf("printCSV = %q, want %q", out, want)
	}
}

func TestAsksFlag(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{name: "empty", values: []string{}, want: ""},
		{name: "single", values: []string{"query1"}, want: "query1"},
		{name: "multiple", values: []string{"query1", "query2", "query3"}, want: "query1; query2; query3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var flag asksFlag
			for _, v := range tt.values {
				_ = flag.Set(v)
			}
			if got := flag.String(); got != tt.want {
				t.Fatalf("asksFlag.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintFormattedResult(t *testing.T) {
	result := map[string]any{
		"table": "orders",
		"query": "SELECT id FROM orders",
		"rows":  []any{map[string]any{"id": float64(1)}, map[string]any{"id": float64(2)}},
	}

	out := captureStdout(t, func() { printFormattedResult(result, "table", true) })
	for _, want := range []string{"-- table: orders", "SELECT id FROM orders", "(2 rows)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table output missing %q:\n%s", want, out)
		}
	}

	out = captureStdout(t, func() { printFormattedResult(result, "table", false) })
	if strings.Contains(out, "SELECT") {
		t.Fatalf("query printed with showQuery=false:\n%s", out)
	}

	out = captureStdout(t, func() {
		printFormattedResult(map[string]any{"table": "orders", "query": "SELECT 1"}, "json", true)
	})
	if !strings.Contains(out, `"query": "SELECT 1"`) {
		t.Fatalf("json output:\n%s", out)
	}
}

func TestAuthRoundTripper(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer ts.Close()

	client := &http.Client{Transport: &authRoundTripper{base: http.DefaultTransport, bearer: "test-token"}}
	req, err := http.NewRequest("GET", ts.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if got != "Bearer test-token" {
		t.Fatalf("expected Authorization header 'Bearer test-token', got %q", got)
	}
	if req.Header.Get("Authorization") != "" {
		t.Fatal("original request was modified")
	}
}
