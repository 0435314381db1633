// Package schema reflects table and column metadata from the live database
// catalog.
package schema

// TableInfo describes one table offered to the model for selection.
type TableInfo struct {
	TableName   string `json:"tableName"`
	FileName    string `json:"fileName"`
	Description string `json:"description"`
}

type ColumnInfo struct {
	Name        string `json:"name"`
	DataType    string `json:"type"`
	Description string `json:"description,omitempty"`
}

// TableContext scopes a prompt to a single table.
type TableContext struct {
	TableName string       `json:"tableName"`
	Fields    []ColumnInfo `json:"fields"`
}
