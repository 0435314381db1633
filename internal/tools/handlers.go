package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/you/sqlbridge/internal/completion"
	"github.com/you/sqlbridge/internal/prompt"
	"github.com/you/sqlbridge/internal/query"
	"github.com/you/sqlbridge/internal/schema"
	"github.com/you/sqlbridge/internal/upstream"
)

const maxQuestionLength = 10000

// ErrNoRelevantTable is returned by generate_sql when the model picks no
// table for the question.
var ErrNoRelevantTable = errors.New("no relevant table found for the given question")

type SchemaSource interface {
	Tables(ctx context.Context) ([]schema.TableInfo, error)
	TableContext(ctx context.Context, table string) (schema.TableContext, error)
	TableContexts(ctx context.Context) ([]schema.TableContext, error)
}

type Executor interface {
	RunReadOnly(ctx context.Context, sql string) ([]map[string]any, error)
}

type Merchant interface {
	FetchConfig(ctx context.Context, pid string, includeWebhooks bool) upstream.MerchantConfig
}

type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Service implements the tool handlers over explicitly injected
// collaborators.
type Service struct {
	Schema   SchemaSource
	LLM      completion.Completer
	Exec     Executor
	Merchant Merchant
	Notifier Notifier
}

// Registry builds the tool table for s.
func (s *Service) Registry() *Registry {
	return NewRegistry(
		Spec{
			Name:        "query_sql",
			Aliases:     []string{"query"},
			Description: "Run a SQL statement inside a read-only transaction that is always rolled back and return the rows as JSON.",
			Args: []Arg{
				{Name: "sql", Type: String, Required: true, Description: "SQL statement to execute."},
			},
			Handler: s.querySQL,
		},
		Spec{
			Name:        "ask",
			Description: "Answer a question about the database using every table's columns as context.",
			Args: []Arg{
				{Name: "question", Aliases: []string{"nlq"}, Type: String, Required: true, Description: "Natural-language question."},
			},
			Handler: s.ask,
		},
		Spec{
			Name:        "generate_sql",
			Description: "Pick the table most relevant to a question and generate a PostgreSQL query for it.",
			Args: []Arg{
				{Name: "question", Aliases: []string{"nlq"}, Type: String, Required: true, Description: "Natural-language question."},
				{Name: "execute", Type: Boolean, Description: "Also run the generated query read-only and include the rows."},
			},
			Handler: s.generateSQL,
		},
		Spec{
			Name:        "fetch_merchant_config",
			Aliases:     []string{"call_config_api"},
			Description: "Fetch a merchant's backend config and trigger config, and optionally its platform webhooks.",
			Args: []Arg{
				{Name: "pid", Aliases: []string{"merchant_pid"}, Type: String, Required: true, Description: "Merchant identifier."},
				{Name: "include_webhooks", Type: Boolean, Description: "Also fetch the platform webhook list."},
			},
			Handler: s.fetchMerchantConfig,
		},
		Spec{
			Name:        "send_slack_alert",
			Description: "Post a message to the configured Slack channel.",
			Args: []Arg{
				{Name: "message", Type: String, Required: true, Description: "Message text."},
			},
			Handler: s.sendSlackAlert,
		},
	)
}

func (s *Service) querySQL(ctx context.Context, args Args) (string, error) {
	sql := strings.TrimSpace(args.String("sql"))
	rows, err := s.Exec.RunReadOnly(ctx, sql)
	if err != nil {
		return "", err
	}
	log.Debug().Str("tool", "query_sql").Int("row_count", len(rows)).Msg("query done")
	return query.RowsJSON(rows)
}

func (s *Service) ask(ctx context.Context, args Args) (string, error) {
	question := strings.TrimSpace(args.String("question"))
	if err := sanitizeInput(question); err != nil {
		return "", err
	}
	tables, err := s.Schema.TableContexts(ctx)
	if err != nil {
		return "", err
	}
	return s.LLM.Complete(ctx, prompt.BuildAnswerPrompt(question, tables))
}

type generated struct {
	Table string           `json:"table"`
	Query string           `json:"query"`
	Rows  []map[string]any `json:"rows,omitempty"`
}

func (s *Service) generateSQL(ctx context.Context, args Args) (string, error) {
	question := strings.TrimSpace(args.String("question"))
	if err := sanitizeInput(question); err != nil {
		return "", err
	}
	tables, err := s.Schema.Tables(ctx)
	if err != nil {
		return "", err
	}

	var out generated
	var p string
	if len(tables) == 0 {
		log.Debug().Str("tool", "generate_sql").Msg("schema has no tables")
		p = prompt.BuildSchemaSQLPrompt(question, nil)
	} else {
		chosen, err := completion.SelectTable(ctx, s.LLM, question, tables)
		if err != nil {
			return "", err
		}
		if chosen == nil {
			return "", ErrNoRelevantTable
		}
		tc, err := s.Schema.TableContext(ctx, chosen.TableName)
		if err != nil {
			return "", err
		}
		out.Table = chosen.TableName
		p = prompt.BuildSQLPrompt(question, tc)
	}

	text, err := s.LLM.Complete(ctx, p)
	if err != nil {
		return "", err
	}
	out.Query = completion.StripCodeFence(text)
	log.Debug().Str("tool", "generate_sql").Str("table", out.Table).Str("sql", out.Query).Msg("generated sql")

	if args.Bool("execute") {
		rows, err := s.Exec.RunReadOnly(ctx, out.Query)
		if err != nil {
			return "", fmt.Errorf("run generated query %q: %w", out.Query, err)
		}
		if rows == nil {
			rows = []map[string]any{}
		}
		out.Rows = rows
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode generated query: %w", err)
	}
	return string(b), nil
}

func (s *Service) fetchMerchantConfig(ctx context.Context, args Args) (string, error) {
	cfg := s.Merchant.FetchConfig(ctx, strings.TrimSpace(args.String("pid")), args.Bool("include_webhooks"))
	if err := cfg.Err(); err != nil {
		return "", err
	}
	return cfg.JSON()
}

func (s *Service) sendSlackAlert(ctx context.Context, args Args) (string, error) {
	if err := s.Notifier.Send(ctx, args.String("message")); err != nil {
		return "", err
	}
	return "Slack alert sent.", nil
}

// sanitizeInput rejects empty and oversized questions and logs suspicious
// patterns.
func sanitizeInput(input string) error {
	input = strings.TrimSpace(input)

	if len(input) == 0 {
		return errors.New("input cannot be empty")
	}
	if len(input) > maxQuestionLength {
		return fmt.Errorf("input too long: %d characters (max %d)", len(input), maxQuestionLength)
	}

	suspicious := []string{
		"--", "/*", "*/", "xp_", "sp_", "exec", "execute",
		"union", "information_schema", "pg_catalog",
	}
	lowerInput := strings.ToLower(input)
	for _, pattern := range suspicious {
		if strings.Contains(lowerInput, pattern) {
			log.Warn().Str("pattern", pattern).Str("input", input).Msg("suspicious pattern detected in input")
		}
	}
	return nil
}
