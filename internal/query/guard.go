package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/you/sqlbridge/internal/failure"
	"github.com/you/sqlbridge/internal/metrics"
)

// GuardMode controls what happens to statements that Inspect flags. The
// read-only transaction is the only enforcement in GuardWarn mode: statements
// that escape transactional scope are logged, not stopped.
type GuardMode string

const (
	GuardOff    GuardMode = "off"
	GuardWarn   GuardMode = "warn"
	GuardReject GuardMode = "reject"
)

func ParseGuardMode(s string) (GuardMode, error) {
	switch m := GuardMode(strings.ToLower(strings.TrimSpace(s))); m {
	case GuardOff, GuardWarn, GuardReject:
		return m, nil
	case "":
		return GuardWarn, nil
	default:
		return "", fmt.Errorf("unknown SQL guard mode %q (want off, warn or reject)", s)
	}
}

var (
	mutating = regexp.MustCompile(`(?is)\b(INSERT|UPDATE|DELETE|UPSERT|MERGE|ALTER|DROP|TRUNCATE|VACUUM|REINDEX|GRANT|REVOKE|CREATE)\b`)

	// statements that start with one of these manage transactions or
	// sessions, or have effects outside the transaction
	leadingControl = regexp.MustCompile(`(?is)^\s*(BEGIN|START|COMMIT|END|ROLLBACK|ABORT|SAVEPOINT|RELEASE|SET|RESET|COPY|CALL|DO|LOCK|LISTEN|NOTIFY|DISCARD|PREPARE|EXECUTE|DEALLOCATE|REFRESH|CLUSTER|COMMENT|SECURITY|IMPORT|LOAD)\b`)

	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	quoted       = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"`)
)

// Inspect lists the reasons sql might not be read-only. An empty result means
// nothing was found, not that the statement is safe.
func Inspect(sql string) []string {
	s := blockComment.ReplaceAllString(sql, " ")
	s = lineComment.ReplaceAllString(s, " ")
	s = quoted.ReplaceAllString(s, "''")

	var findings []string
	seen := map[string]bool{}
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			findings = append(findings, f)
		}
	}

	var statements []string
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) != "" {
			statements = append(statements, part)
		}
	}
	if len(statements) > 1 {
		add("multiple statements")
	}
	for _, st := range statements {
		if m := leadingControl.FindStringSubmatch(st); m != nil {
			add(strings.ToUpper(m[1]))
		}
		for _, m := range mutating.FindAllStringSubmatch(st, -1) {
			add(strings.ToUpper(m[1]))
		}
	}
	return findings
}

type Guard struct {
	Mode GuardMode
}

// Check applies the guard mode to sql. Only GuardReject returns an error.
func (g Guard) Check(sql string) error {
	if g.Mode == GuardOff {
		return nil
	}
	findings := Inspect(sql)
	if len(findings) == 0 {
		return nil
	}
	metrics.ObserveGuardFlag(string(g.Mode))
	if g.Mode == GuardReject {
		return failure.Newf(failure.InvalidArgument, "sql guard", "refusing to run possibly mutating SQL (%s)", strings.Join(findings, ", "))
	}
	log.Warn().Strs("findings", findings).Str("sql", sql).
		Msg("statement may not be read-only; relying on read-only transaction and rollback")
	return nil
}
