// Package prompt renders the model prompts. Every builder is a pure function
// of its inputs so the same question and schema always give the same bytes.
package prompt

import (
	"encoding/json"
	"strings"

	"github.com/you/sqlbridge/internal/schema"
)

const readOnlyRules = `Rules:
- Use only the tables and columns listed above. Do not invent tables or columns.
- Use only read-only SQL (SELECT or WITH ... SELECT). No INSERT, UPDATE, DELETE, DDL or transaction control.
- Write a single PostgreSQL statement.`

// BuildAnswerPrompt asks the model to answer from the full schema, either
// directly or with a SQL query.
func BuildAnswerPrompt(question string, tables []schema.TableContext) string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.TableName
	}

	var b strings.Builder
	b.WriteString("You are a helpful assistant that can answer questions about data in a PostgreSQL database. ")
	b.WriteString("The database contains the following tables: ")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(". For each table, here is the schema:\n\n")
	writeTableBlocks(&b, tables)
	b.WriteString(readOnlyRules)
	b.WriteString("\n\n")
	b.WriteString(`Based on this schema, answer the following question: "`)
	b.WriteString(question)
	b.WriteString("\"\n\nIf the question requires querying the database, please provide the SQL query. ")
	b.WriteString("If the question can be answered based on the schema information alone, provide a direct answer.\n")
	return b.String()
}

// BuildTableSelectionPrompt asks the model to name the single table that best
// matches the question, as the JSON object of that table.
func BuildTableSelectionPrompt(question string, tables []schema.TableInfo) string {
	if tables == nil {
		tables = []schema.TableInfo{}
	}
	var b strings.Builder
	b.WriteString("You are a Postgres data expert.\n\nGiven the following user query:\n\n\"")
	b.WriteString(question)
	b.WriteString("\"\n\nAnd the list of available tables:\n\n")
	b.WriteString(indentJSON(tables))
	b.WriteString("\n\nPick the **one best matching table**. Use only the tables listed above. ")
	b.WriteString("Return only the JSON object of the best matching table. If none match, return null.\n")
	return b.String()
}

// BuildSQLPrompt scopes SQL generation to one table.
func BuildSQLPrompt(question string, table schema.TableContext) string {
	fields := table.Fields
	if fields == nil {
		fields = []schema.ColumnInfo{}
	}
	var b strings.Builder
	b.WriteString("You are a SQL expert.\n\nGiven this schema for table \"")
	b.WriteString(table.TableName)
	b.WriteString("\":\n\n")
	b.WriteString(indentJSON(fields))
	b.WriteString("\n\n")
	b.WriteString(readOnlyRules)
	b.WriteString("\n\nTranslate the following natural language into a valid **PostgreSQL** query:\n\n\"")
	b.WriteString(question)
	b.WriteString("\"\n\nReturn only the SQL query.\n")
	return b.String()
}

// BuildSchemaSQLPrompt generates SQL against every supplied table. It is used
// when there is no single table to scope to.
func BuildSchemaSQLPrompt(question string, tables []schema.TableContext) string {
	var b strings.Builder
	b.WriteString("You are a SQL expert. The PostgreSQL database has the following schema:\n\n")
	writeTableBlocks(&b, tables)
	b.WriteString(readOnlyRules)
	b.WriteString("\n\nTranslate the following natural language into a valid **PostgreSQL** query:\n\n\"")
	b.WriteString(question)
	b.WriteString("\"\n\nReturn only the SQL query.\n")
	return b.String()
}

func writeTableBlocks(b *strings.Builder, tables []schema.TableContext) {
	for _, t := range tables {
		b.WriteString(`Table "`)
		b.WriteString(t.TableName)
		b.WriteString("\":\n")
		for _, c := range t.Fields {
			b.WriteString("- ")
			b.WriteString(c.Name)
			b.WriteString(" (")
			b.WriteString(c.DataType)
			b.WriteString(")")
			if c.Description != "" {
				b.WriteString(": ")
				b.WriteString(c.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
}

func indentJSON(v any) string {
	// Only plain structs and slices reach here, so marshalling cannot fail.
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}
