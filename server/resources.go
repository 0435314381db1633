package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/you/sqlbridge/internal/query"
)

const jsonMIME = "application/json"

type tableLinks struct {
	Table  string `json:"table"`
	Schema string `json:"schema"`
	Rows   string `json:"rows"`
}

type columnEntry struct {
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type"`
}

func (s *Server) registerResources(server *mcp.Server) {
	server.AddResource(&mcp.Resource{
		Name:        "tables",
		URI:         s.base + "/tables",
		MIMEType:    jsonMIME,
		Description: fmt.Sprintf("Tables in schema %q with their schema and rows resource URIs.", s.schema.SchemaName()),
	}, s.readTables)
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "table-schema",
		URITemplate: s.base + "/{table}/schema",
		MIMEType:    jsonMIME,
		Description: "Column names and data types of a table.",
	}, s.readTable)
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "table-rows",
		URITemplate: s.base + "/{table}/rows",
		MIMEType:    jsonMIME,
		Description: fmt.Sprintf("First %d rows of a table.", sampleRowCount),
	}, s.readTable)
	server.AddReceivingMiddleware(s.listTableResources)
}

// listTableResources appends one schema and one rows resource per live
// table to the first page of resources/list.
func (s *Server) listTableResources(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		res, err := next(ctx, method, req)
		if err != nil || method != "resources/list" {
			return res, err
		}
		list, ok := res.(*mcp.ListResourcesResult)
		if !ok {
			return res, nil
		}
		if p, ok := req.GetParams().(*mcp.ListResourcesParams); ok && p != nil && p.Cursor != "" {
			return res, nil
		}
		names, err := s.schema.ListTables(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			list.Resources = append(list.Resources,
				&mcp.Resource{
					Name:        n + "/schema",
					URI:         s.tableURI(n, "schema"),
					MIMEType:    jsonMIME,
					Description: fmt.Sprintf("Columns of table %q.", n),
				},
				&mcp.Resource{
					Name:        n + "/rows",
					URI:         s.tableURI(n, "rows"),
					MIMEType:    jsonMIME,
					Description: fmt.Sprintf("First %d rows of table %q.", sampleRowCount, n),
				},
			)
		}
		return list, nil
	}
}

func (s *Server) tableURI(table, kind string) string {
	return s.base + "/" + url.PathEscape(table) + "/" + kind
}

func (s *Server) readTables(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	names, err := s.schema.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	links := make([]tableLinks, 0, len(names))
	for _, n := range names {
		links = append(links, tableLinks{Table: n, Schema: s.tableURI(n, "schema"), Rows: s.tableURI(n, "rows")})
	}
	return jsonResource(req.Params.URI, links)
}

func (s *Server) readTable(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	table, kind, ok := s.parseTableURI(uri)
	if !ok {
		return nil, mcp.ResourceNotFoundError(uri)
	}

	// Only tables visible right now are readable.
	names, err := s.schema.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, n := range names {
		if n == table {
			found = true
			break
		}
	}
	if !found {
		log.Debug().Str("uri", uri).Str("table", table).Msg("resource for unknown table")
		return nil, mcp.ResourceNotFoundError(uri)
	}

	switch kind {
	case "schema":
		cols, err := s.schema.ListColumns(ctx, table)
		if err != nil {
			return nil, err
		}
		out := make([]columnEntry, 0, len(cols))
		for _, c := range cols {
			out = append(out, columnEntry{ColumnName: c.Name, DataType: c.DataType})
		}
		return jsonResource(uri, out)
	default:
		rows, err := s.exec.SampleRows(ctx, s.schema.SchemaName(), table, sampleRowCount)
		if err != nil {
			return nil, err
		}
		txt, err := query.RowsJSON(rows)
		if err != nil {
			return nil, err
		}
		return textResource(uri, txt), nil
	}
}

// parseTableURI splits {base}/{table}/{schema|rows}.
func (s *Server) parseTableURI(uri string) (table, kind string, ok bool) {
	rest, found := strings.CutPrefix(uri, s.base+"/")
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, "/")
	if i <= 0 {
		return "", "", false
	}
	kind = rest[i+1:]
	if kind != "schema" && kind != "rows" {
		return "", "", false
	}
	table, err := url.PathUnescape(rest[:i])
	if err != nil || table == "" {
		return "", "", false
	}
	return table, kind, true
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", uri, err)
	}
	return textResource(uri, string(b)), nil
}

func textResource(uri, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: jsonMIME, Text: text}},
	}
}
