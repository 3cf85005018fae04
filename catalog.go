package toolfed

import (
	"sort"
	"strings"
	"sync"
)

// Catalog is the federation proxy's tool map: a mapping from qualified
// name to ToolRecord, held behind a reader-preferring RWMutex per
// spec.md §5 (many concurrent readers; writers only during discovery and
// backend eviction). Insertion order is not observable, matching
// spec.md §3.
type Catalog struct {
	mu      sync.RWMutex
	records map[string]ToolRecord
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{records: make(map[string]ToolRecord)}
}

// Put inserts or replaces a tool record. Called only during backend
// discovery.
func (c *Catalog) Put(rec ToolRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[rec.QualifiedName] = rec
}

// PutAll inserts or replaces many tool records in one write.
func (c *Catalog) PutAll(recs []ToolRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range recs {
		c.records[rec.QualifiedName] = rec
	}
}

// Get returns the record for a qualified name.
func (c *Catalog) Get(qualifiedName string) (ToolRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[qualifiedName]
	return rec, ok
}

// EvictBackend removes every record belonging to a backend. Called when a
// backend session transitions to failed.
func (c *Catalog) EvictBackend(backendName string) {
	prefix := backendName + NameSeparator
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.records {
		if strings.HasPrefix(name, prefix) {
			delete(c.records, name)
		}
	}
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Snapshot returns every record, sorted by qualified name so callers
// observe a deterministic order even though the catalog itself makes no
// ordering guarantee.
func (c *Catalog) Snapshot() []ToolRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolRecord, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QualifiedName < out[j].QualifiedName })
	return out
}

// Filter returns the sorted snapshot restricted to a server prefix
// (server__) and/or a keyword OR-match over lowercased
// name||description||schema, per spec.md §4.D.
func (c *Catalog) Filter(server string, keywords []string) []ToolRecord {
	all := c.Snapshot()
	out := all[:0:0]
	for _, rec := range all {
		if server != "" && rec.Backend() != server {
			continue
		}
		if len(keywords) > 0 && !matchesAnyKeyword(rec, keywords) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func matchesAnyKeyword(rec ToolRecord, keywords []string) bool {
	haystack := strings.ToLower(rec.QualifiedName + " " + rec.Description + " " + schemaText(rec.InputSchema))
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// schemaText renders a schema map into a flat searchable string without
// needing a full JSON re-encode; it concatenates keys and scalar values.
func schemaText(schema map[string]any) string {
	var sb strings.Builder
	appendSchemaText(&sb, schema)
	return sb.String()
}

func appendSchemaText(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, inner := range val {
			sb.WriteString(k)
			sb.WriteByte(' ')
			appendSchemaText(sb, inner)
		}
	case []any:
		for _, inner := range val {
			appendSchemaText(sb, inner)
		}
	case string:
		sb.WriteString(val)
		sb.WriteByte(' ')
	}
}
