// client/main.go
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type asksFlag []string

func (a *asksFlag) String() string     { return strings.Join(*a, "; ") }
func (a *asksFlag) Set(v string) error { *a = append(*a, v); return nil }

func main() {
	url := getenv("SQLBRIDGE_SERVER_URL", "http://127.0.0.1:8080/mcp/sse")
	bearer := os.Getenv("SQLBRIDGE_AUTH_BEARER")

	serverURL := flag.String("url", url, "MCP server URL (e.g. http://host:8080/mcp/sse or http://host:8080/mcp)")
	auth := flag.String("bearer", bearer, "Optional bearer token")
	transport := flag.String("transport", "sse", "Transport: sse or streamable")
	var asks, generates asksFlag
	flag.Var(&asks, "ask", "Plain-English question answered from the schema (repeatable)")
	flag.Var(&generates, "generate", "Plain-English question translated to SQL (repeatable)")
	execute := flag.Bool("execute", false, "Run generated SQL and print its rows")
	sqlText := flag.String("sql", "", "Read-only SQL to run")
	pid := flag.String("pid", "", "Merchant PID whose configuration to fetch")
	format := flag.String("format", "table", "Row output format: table, json or csv")
	flag.Parse()

	httpClient := &http.Client{
		Transport: &authRoundTripper{base: http.DefaultTransport, bearer: strings.TrimSpace(*auth)},
	}
	var tr mcp.Transport
	switch *transport {
	case "streamable":
		tr = &mcp.StreamableClientTransport{Endpoint: *serverURL, HTTPClient: httpClient}
	case "sse":
		tr = &mcp.SSEClientTransport{Endpoint: *serverURL, HTTPClient: httpClient}
	default:
		log.Fatalf("unknown transport %q (want sse or streamable)", *transport)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "sqlbridge-client", Version: "0.1.0"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	session, err := client.Connect(ctx, tr, nil)
	if err != nil {
		log.Fatalf("connect to %s failed: %v", *serverURL, err)
	}
	defer session.Close()

	if _, err := session.ListTools(ctx, &mcp.ListToolsParams{}); err != nil {
		log.Fatalf("tools/list failed: %v", err)
	}

	for _, q := range asks {
		printContent(call(ctx, session, "ask", map[string]any{"question": q}))
	}
	for _, q := range generates {
		text := firstText(call(ctx, session, "generate_sql", map[string]any{"question": q, "execute": *execute}))
		var result map[string]any
		if err := json.Unmarshal([]byte(text), &result); err != nil {
			fmt.Println(text)
			continue
		}
		printFormattedResult(result, *format, true)
	}
	if s := strings.TrimSpace(*sqlText); s != "" {
		text := firstText(call(ctx, session, "query_sql", map[string]any{"sql": s}))
		var rows []any
		if err := json.Unmarshal([]byte(text), &rows); err != nil {
			fmt.Println(text)
		} else {
			printRows(rows, *format)
		}
	}
	if p := strings.TrimSpace(*pid); p != "" {
		printContent(call(ctx, session, "fetch_merchant_config", map[string]any{"pid": p}))
	}
}

func call(ctx context.Context, session *mcp.ClientSession, tool string, args map[string]any) []mcp.Content {
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		log.Fatalf("%s failed: %v", tool, err)
	}
	if res.IsError {
		printContent(res.Content)
		log.Fatalf("%s returned error", tool)
	}
	return res.Content
}

func firstText(cs []mcp.Content) string {
	for _, c := range cs {
		if t, ok := c.(*mcp.TextContent); ok {
			return t.Text
		}
	}
	return ""
}

func printContent(cs []mcp.Content) {
	for _, c := range cs {
		switch v := c.(type) {
		case *mcp.TextContent:
			if pretty, ok := tryPrettyJSON(v.Text); ok {
				fmt.Println(pretty)
			} else {
				fmt.Println(v.Text)
			}
		default:
			b, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(b))
		}
	}
}

// printFormattedResult prints a generate_sql result: the chosen table and
// query, then any rows in the requested format.
func printFormattedResult(result map[string]any, format string, showQuery bool) {
	if format == "json" {
		b, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(b))
		return
	}
	if showQuery {
		if t, ok := result["table"].(string); ok && t != "" {
			fmt.Printf("-- table: %s\n", t)
		}
		if q, ok := result["query"].(string); ok {
			fmt.Println(q)
		}
	}
	rows, ok := result["rows"].([]any)
	if !ok {
		return
	}
	printRows(rows, format)
	fmt.Printf("(%d rows)\n", len(rows))
}

func printRows(rows []any, format string) {
	switch format {
	case "csv":
		printCSV(rows)
	case "json":
		b, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(b))
	default:
		printTable(rows)
	}
}

// columns returns the union of keys across rows, sorted.
func columns(rows []any) []string {
	seen := map[string]bool{}
	var cols []string
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		for k := range m {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

func cells(row any, cols []string) []string {
	m, _ := row.(map[string]any)
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = formatValue(m[c])
	}
	return out
}

func printTable(rows []any) {
	cols := columns(rows)
	if len(cols) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	dashes := make([]string, len(cols))
	for i, c := range cols {
		dashes[i] = strings.Repeat("-", len(c))
	}
	fmt.Fprintln(w, strings.Join(dashes, "\t"))
	for _, r := range rows {
		cs := cells(r, cols)
		for i := range cs {
			cs[i] = strings.ReplaceAll(cs[i], "\n", " ")
		}
		fmt.Fprintln(w, strings.Join(cs, "\t"))
	}
	_ = w.Flush()
}

func printCSV(rows []any) {
	cols := columns(rows)
	if len(cols) == 0 {
		return
	}
	w := csv.NewWriter(os.Stdout)
	_ = w.Write(cols)
	for _, r := range rows {
		_ = w.Write(cells(r, cols))
	}
	w.Flush()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%.2f", x)
	case float32:
		return fmt.Sprintf("%.2f", x)
	case map[string]any, []any:
		b, _ := json.Marshal(x)
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

type authRoundTripper struct {
	base   http.RoundTripper
	bearer string
}

func (rt *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if rt.bearer != "" {
		r.Header.Set("Authorization", "Bearer "+rt.bearer)
	}
	return rt.base.RoundTrip(r)
}

func tryPrettyJSON(s string) (string, bool) {
	var anyJSON any
	if err := json.Unmarshal([]byte(s), &anyJSON); err != nil {
		return "", false
	}
	b, _ := json.MarshalIndent(anyJSON, "", "  ")
	return string(b), true
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
