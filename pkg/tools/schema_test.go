package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSchema() Schema {
	return Schema{
		Name:        "execute_query",
		Description: "Run a SQL query",
		Parameters: []Parameter{
			{Name: "query", Description: "SQL text", Type: "string", Required: true},
			{Name: "limit", Description: "Row cap", Type: "integer", Required: false, Default: float64(100)},
		},
		Returns:    map[string]any{"type": "object"},
		ServerName: "sqlite",
		Version:    "1.0.0",
		Tags:       []string{"database"},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	s := sampleSchema()
	r.Register(s)

	got, ok := r.Get("sqlite.execute_query")
	require.True(t, ok)
	assert.Equal(t, s, got)

	_, ok = r.Get("sqlite.missing")
	assert.False(t, ok)
}

func TestRegistry_ReRegisterOverwrites(t *testing.T) {
	r := NewRegistry()
	s := sampleSchema()
	r.Register(s)

	s.Description = "Run a SQL query against the primary database"
	s.Version = "2.0.0"
	r.Register(s)

	got, ok := r.Get("sqlite.execute_query")
	require.True(t, ok)
	assert.Equal(t, "2.0.0", got.Version)
	assert.Len(t, r.IDs(), 1, "re-registration must not duplicate")
}

func TestRegistry_ForServer(t *testing.T) {
	r := NewRegistry()
	r.Register(Schema{Name: "read", ServerName: "fs"})
	r.Register(Schema{Name: "write", ServerName: "fs"})
	r.Register(Schema{Name: "query", ServerName: "sqlite"})

	fs := r.ForServer("fs")
	require.Len(t, fs, 2)
	assert.Equal(t, "read", fs[0].Name)
	assert.Equal(t, "write", fs[1].Name)

	assert.Empty(t, r.ForServer("ghost"))
}

func TestRegistry_WithTag(t *testing.T) {
	r := NewRegistry()
	r.Register(Schema{Name: "query", ServerName: "sqlite", Tags: []string{"database", "sql"}})
	r.Register(Schema{Name: "scrape", ServerName: "web", Tags: []string{"scraping"}})
	r.Register(Schema{Name: "insert", ServerName: "sqlite", Tags: []string{"database"}})

	db := r.WithTag("database")
	require.Len(t, db, 2)
	assert.Equal(t, "sqlite.insert", db[0].ID())
	assert.Equal(t, "sqlite.query", db[1].ID())

	assert.Empty(t, r.WithTag("graphics"))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	r.Register(Schema{Name: "read", ServerName: "fs"})
	r.Register(Schema{Name: "query", ServerName: "sqlite"})

	r.Unregister("fs")

	assert.Empty(t, r.ForServer("fs"))
	assert.Len(t, r.IDs(), 1)
}

func TestRegistry_Document(t *testing.T) {
	r := NewRegistry()
	r.Register(sampleSchema())

	doc := r.Document()
	assert.Equal(t, "object", doc["type"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	entry, ok := props["sqlite.execute_query"].(map[string]any)
	require.True(t, ok)

	entryProps := entry["properties"].(map[string]any)
	name := entryProps["name"].(map[string]any)
	assert.Equal(t, "execute_query", name["const"])

	params := entryProps["parameters"].(map[string]any)
	assert.Equal(t, []string{"query"}, params["required"])

	paramProps := params["properties"].(map[string]any)
	limit := paramProps["limit"].(map[string]any)
	assert.Equal(t, "integer", limit["type"])
	assert.Equal(t, float64(100), limit["default"])

	assert.Equal(t, map[string]any{"type": "object"}, entryProps["returns"])
}

func TestValidateToolEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry string
		want  bool
	}{
		{
			name:  "complete entry",
			entry: `{"name":"q","description":"d","parameters":[{"name":"x","description":"d","type":"string","required":true}]}`,
			want:  true,
		},
		{
			name:  "empty parameters",
			entry: `{"name":"q","description":"d","parameters":[]}`,
			want:  true,
		},
		{
			name:  "missing name",
			entry: `{"description":"d","parameters":[]}`,
			want:  false,
		},
		{
			name:  "missing description",
			entry: `{"name":"q","parameters":[]}`,
			want:  false,
		},
		{
			name:  "parameters not an array",
			entry: `{"name":"q","description":"d","parameters":{}}`,
			want:  false,
		},
		{
			name:  "parameter missing type",
			entry: `{"name":"q","description":"d","parameters":[{"name":"x","description":"d"}]}`,
			want:  false,
		},
		{
			name:  "required not boolean",
			entry: `{"name":"q","description":"d","parameters":[{"name":"x","description":"d","type":"string","required":"yes"}]}`,
			want:  false,
		},
		{
			name:  "not an object",
			entry: `[1,2,3]`,
			want:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidateToolEntry([]byte(tt.entry)))
		})
	}
}
