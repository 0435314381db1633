package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/you/sqlbridge/internal/failure"
)

// Catalog holds hand-written table and column descriptions loaded from a
// context directory:
//
//	<dir>/index.json          [{"tableName": ..., "fileName": ..., "description": ...}]
//	<dir>/models/<fileName>   {"tableName": ..., "fields": [{"name", "type", "description"}]}
//
// It only contributes descriptions. Table and column lists always come from
// the live catalog. A nil *Catalog is valid and describes nothing.
type Catalog struct {
	tables  map[string]TableInfo
	columns map[string]map[string]string
}

func LoadCatalog(dir string) (*Catalog, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if err != nil {
		return nil, failure.New(failure.Config, "load context index", err)
	}
	var index []TableInfo
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, failure.New(failure.Config, "parse context index", err)
	}

	c := &Catalog{
		tables:  make(map[string]TableInfo, len(index)),
		columns: make(map[string]map[string]string),
	}
	for _, t := range index {
		c.tables[t.TableName] = t
		if t.FileName == "" {
			continue
		}
		model, err := LoadModel(dir, t.FileName)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		descs := make(map[string]string, len(model.Fields))
		for _, f := range model.Fields {
			if f.Description != "" {
				descs[f.Name] = f.Description
			}
		}
		c.columns[t.TableName] = descs
	}
	return c, nil
}

func LoadModel(dir, fileName string) (TableContext, error) {
	path := filepath.Join(dir, "models", filepath.Base(fileName))
	raw, err := os.ReadFile(path)
	if err != nil {
		return TableContext{}, fmt.Errorf("load model context %s: %w", fileName, err)
	}
	var tc TableContext
	if err := json.Unmarshal(raw, &tc); err != nil {
		return TableContext{}, failure.New(failure.Config, "parse model context "+fileName, err)
	}
	return tc, nil
}

func (c *Catalog) Describe(table string) (TableInfo, bool) {
	if c == nil {
		return TableInfo{}, false
	}
	t, ok := c.tables[table]
	return t, ok
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.tables)
}

func (c *Catalog) annotate(table string, cols []ColumnInfo) {
	if c == nil {
		return
	}
	descs := c.columns[table]
	for i := range cols {
		if d, ok := descs[cols[i].Name]; ok {
			cols[i].Description = d
		}
	}
}
