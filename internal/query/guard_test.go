package query

import (
	"fmt"
	"testing"

	"github.com/you/sqlbridge/internal/failure"
)

func TestInspectReadOnly(t *testing.T) {
	ok := []string{
		"SELECT 1",
		"WITH x AS (SELECT 1) SELECT * FROM x LIMIT 5",
		"-- comment\nSELECT now()",
		"SELECT * FROM users;",
		"SELECT u.name, o.id FROM users u JOIN orders o ON u.id = o.user_id;",
		"WITH recent_users AS (SELECT * FROM users WHERE created_at > now() - interval '1 day') SELECT * FROM recent_users;",
		"SELECT COUNT(*), AVG(price_cents) FROM items;",
		"SELECT name, ROW_NUMBER() OVER (ORDER BY created_at) FROM users;",
		"EXPLAIN SELECT * FROM users;",
		"SELECT tablename FROM pg_tables WHERE schemaname = 'public';",
		"SELECT updated_at, last_update FROM audit",
		"SELECT * FROM notes WHERE body = 'please drop; delete everything'",
		"SELECT pg_cancel_backend(pg_backend_pid());",
	}
	for _, q := range ok {
		if f := Inspect(q); len(f) != 0 {
			t.Fatalf("Inspect flagged read-only SQL %q: %v", q, f)
		}
	}
}

func TestInspectFlagsMutations(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{"INSERT INTO t VALUES (1)", "INSERT"},
		{"UPDATE t SET a=1", "UPDATE"},
		{"DELETE FROM t", "DELETE"},
		{"ALTER TABLE t ADD COLUMN x int", "ALTER"},
		{"DROP TABLE t", "DROP"},
		{"TRUNCATE t", "TRUNCATE"},
		{"CREATE TABLE t(x int)", "CREATE"},
		{"VACUUM FULL users;", "VACUUM"},
		{"GRANT ALL ON users TO public;", "GRANT"},
		{"COPY users FROM '/tmp/evil.csv';", "COPY"},
		{"WITH evil AS (UPDATE users SET name = 'hacked' RETURNING *) SELECT * FROM evil;", "UPDATE"},
		{"SELECT 1; SELECT 2", "multiple statements"},
	}
	for _, tt := range tests {
		found := Inspect(tt.sql)
		if !contains(found, tt.want) {
			t.Fatalf("Inspect(%q) = %v, want %q", tt.sql, found, tt.want)
		}
	}
}

func TestInspectFlagsTransactionControl(t *testing.T) {
	cmds := []string{
		"ROLLBACK;",
		"COMMIT;",
		"BEGIN;",
		"START TRANSACTION;",
		"SAVEPOINT sp1;",
		"RELEASE SAVEPOINT sp1;",
		"SET TRANSACTION READ WRITE;",
		"SET TRANSACTION ISOLATION LEVEL READ COMMITTED;",
		"ROLLBACK TO SAVEPOINT sp1;",
		"RoLlBaCk;",
		"CoMmIt;",
		"BeGiN;",
		"ROLLBACK; DROP TABLE users;",
		"COMMIT; INSERT INTO users VALUES (1);",
		"SET TRANSACTION READ WRITE; UPDATE users SET name = 'test';",
	}
	for _, q := range cmds {
		if f := Inspect(q); len(f) == 0 {
			t.Fatalf("expected %q to be flagged", q)
		}
	}
}

func TestInspectMultiStatementInjection(t *testing.T) {
	attempts := []string{
		"SELECT 1; DROP TABLE users;",
		"SELECT * FROM users; INSERT INTO users VALUES (999, 'evil');",
		"SELECT COUNT(*) FROM users; TRUNCATE users;",
		"/* comment */ SELECT 1; DELETE FROM users;",
		"SELECT 1 --comment\n; UPDATE users SET name = 'hacked';",
		"SELECT id FROM users UNION SELECT 1; DROP TABLE users; --",
		"SELECT (SELECT 1 FROM (SELECT 1) x); ROLLBACK; CREATE TABLE evil;",
		"SELECT pg_advisory_lock(1); UPDATE users SET name = 'locked';",
	}
	for i, sql := range attempts {
		t.Run(fmt.Sprintf("multi_statement_%d", i), func(t *testing.T) {
			if !contains(Inspect(sql), "multiple statements") {
				t.Fatalf("expected multiple statements to be flagged: %s", sql)
			}
		})
	}
}

func TestGuardModes(t *testing.T) {
	sql := "DROP TABLE users"

	if err := (Guard{Mode: GuardOff}).Check(sql); err != nil {
		t.Fatalf("off: %v", err)
	}
	if err := (Guard{Mode: GuardWarn}).Check(sql); err != nil {
		t.Fatalf("warn should only flag: %v", err)
	}
	err := (Guard{Mode: GuardReject}).Check(sql)
	if err == nil {
		t.Fatal("reject should refuse DROP")
	}
	if !failure.Is(err, failure.InvalidArgument) {
		t.Fatalf("kind = %v", failure.KindOf(err))
	}
	if err := (Guard{Mode: GuardReject}).Check("SELECT 1"); err != nil {
		t.Fatalf("reject refused a SELECT: %v", err)
	}
}

func TestParseGuardMode(t *testing.T) {
	tests := []struct {
		in      string
		want    GuardMode
		wantErr bool
	}{
		{"", GuardWarn, false},
		{"warn", GuardWarn, false},
		{" REJECT ", GuardReject, false},
		{"off", GuardOff, false},
		{"block", "", true},
	}
	for _, tt := range tests {
		got, err := ParseGuardMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseGuardMode(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
