// Package completion talks to the hosted language model.
package completion

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/you/sqlbridge/internal/failure"
	"github.com/you/sqlbridge/internal/prompt"
	"github.com/you/sqlbridge/internal/schema"
)

// Completer sends one prompt and returns the generated text, trimmed.
// Transport, quota and empty responses fail with failure.Completion.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// SelectTable asks the model for the single table that best fits question.
// A reply that is not a JSON object naming one of tables yields nil with no
// error; only a failed completion is returned as an error.
func SelectTable(ctx context.Context, c Completer, question string, tables []schema.TableInfo) (*schema.TableInfo, error) {
	text, err := c.Complete(ctx, prompt.BuildTableSelectionPrompt(question, tables))
	if err != nil {
		return nil, err
	}

	picked, err := parseSelection(text, tables)
	if failure.Is(err, failure.MalformedResponse) {
		log.Warn().Err(err).Str("reply", truncate(text, 200)).Msg("ignoring table selection reply")
		return nil, nil
	}
	return picked, err
}

// parseSelection matches a selection reply against tables. A null or empty
// reply is no match; anything else that does not name a table is a
// MalformedResponse failure.
func parseSelection(text string, tables []schema.TableInfo) (*schema.TableInfo, error) {
	body := StripCodeFence(text)
	if body == "" || body == "null" {
		return nil, nil
	}
	var picked schema.TableInfo
	if err := json.Unmarshal([]byte(body), &picked); err != nil {
		obj, ok := firstObject(body)
		if !ok {
			return nil, failure.New(failure.MalformedResponse, "parse table selection", err)
		}
		if err := json.Unmarshal([]byte(obj), &picked); err != nil {
			return nil, failure.New(failure.MalformedResponse, "parse table selection", err)
		}
	}
	for i := range tables {
		if strings.EqualFold(tables[i].TableName, picked.TableName) {
			match := tables[i]
			return &match, nil
		}
	}
	return nil, failure.Newf(failure.MalformedResponse, "parse table selection", "unknown table %q", picked.TableName)
}

// firstObject returns the outermost {...} span of text, for replies that
// wrap the object in prose or a fence.
func firstObject(text string) (string, bool) {
	i := strings.IndexByte(text, '{')
	j := strings.LastIndexByte(text, '}')
	if i < 0 || j <= i {
		return "", false
	}
	return text[i : j+1], true
}

// StripCodeFence removes a surrounding markdown code fence such as
// ```sql ... ``` or ```json ... ```.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && isFenceTag(s[:nl]) {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// statementStart holds words that open a SQL statement on the fence line
// itself rather than naming a language.
var statementStart = map[string]bool{"select": true, "with": true, "values": true, "table": true, "explain": true, "show": true}

// isFenceTag reports whether line is empty or a language tag such as sql
// or JSON.
func isFenceTag(line string) bool {
	line = strings.ToLower(strings.TrimSpace(line))
	if len(line) > 12 || statementStart[line] {
		return false
	}
	for _, r := range line {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
