package vectorstore

import (
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidTableName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"Valid standard", "kresearch_knowledge", true},
		{"Valid with underscore", "my_collection", true},
		{"Valid with numbers", "collection123", true},
		{"Valid short", "a", true},
		{"Valid max length", "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_", true}, // 63 chars
		{"Invalid start with number", "1collection", false},
		{"Invalid special chars", "collection-name", false},
		{"Invalid space", "collection name", false},
		{"Invalid SQL injection", "sessions; DROP TABLE kresearch_knowledge", false},
		{"Invalid empty", "", false},
		{"Invalid too long", "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789__", false}, // 64 chars
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidTableName(tt.input); got != tt.expected {
				t.Errorf("isValidTableName(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBuildMetadataQuery(t *testing.T) {
	vs := &PGVectorStore{}

	tests := []struct {
		name          string
		filter        map[string]any
		wantQuery     string
		wantArgsCount int
		wantErr       bool
	}{
		{
			name:          "Empty filter",
			filter:        map[string]any{},
			wantQuery:     "TRUE",
			wantArgsCount: 0,
		},
		{
			name:          "Single key-value",
			filter:        map[string]any{"source": "doc1"},
			wantQuery:     "metadata @> $1",
			wantArgsCount: 1,
		},
		{
			name: "$and operator",
			filter: map[string]any{
				"$and": []any{
					map[string]any{"a": 1},
					map[string]any{"b": 2},
				},
			},
			wantQuery:     "((metadata @> $1) AND (metadata @> $2))",
			wantArgsCount: 2,
		},
		{
			name: "$or operator",
			filter: map[string]any{
				"$or": []any{
					map[string]any{"a": 1},
					map[string]any{"b": 2},
				},
			},
			wantQuery:     "((metadata @> $1) OR (metadata @> $2))",
			wantArgsCount: 2,
		},
		{
			name: "$not operator",
			filter: map[string]any{
				"$not": map[string]any{"a": 1},
			},
			wantQuery:     "NOT (metadata @> $1)",
			wantArgsCount: 1,
		},
		{
			name: "Nested operators",
			filter: map[string]any{
				"$or": []any{
					map[string]any{"a": 1},
					map[string]any{
						"$and": []any{
							map[string]any{"b": 2},
							map[string]any{"c": 3},
						},
					},
				},
			},
			wantQuery:     "((metadata @> $1) OR (((metadata @> $2) AND (metadata @> $3))))",
			wantArgsCount: 3,
		},
		{
			name: "Implicit AND (multi-key map)",
			filter: map[string]any{
				"a": 1,
				"b": 2,
			},
			// The query string matches because placeholders populate in visited order
			wantQuery:     "metadata @> $1 AND metadata @> $2",
			wantArgsCount: 2,
		},
		{
			name: "Error: Value for $or is not a list",
			filter: map[string]any{
				"$or": "invalid",
			},
			wantErr: true,
		},
		{
			name: "Error: Item in $and list is not an object",
			filter: map[string]any{
				"$and": []any{
					"invalid",
				},
			},
			wantErr: true,
		},
		{
			name: "Error: Value for $not is not an object",
			filter: map[string]any{
				"$not": []any{"invalid"},
			},
			wantErr: true,
		},
		{
			name: "Edge Case: Empty list in operator (ignored)",
			filter: map[string]any{
				"$or": []any{},
			},
			wantQuery:     "TRUE",
			wantArgsCount: 0,
		},
		{
			name: "Edge Case: Operator with empty objects",
			filter: map[string]any{
				"$and": []any{
					map[string]any{},
				},
			},
			// recursive call returns TRUE, so we get (TRUE)
			wantQuery:     "((TRUE))",
			wantArgsCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var args []any
			gotQuery, err := vs.buildMetadataQuery(tt.filter, &args)
			if (err != nil) != tt.wantErr {
				t.Errorf("buildMetadataQuery() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if gotQuery != tt.wantQuery {
				t.Errorf("buildMetadataQuery() query = %q, want %q", gotQuery, tt.wantQuery)
			}
			if len(args) != tt.wantArgsCount {
				t.Errorf("buildMetadataQuery() args count = %d, want %d", len(args), tt.wantArgsCount)
			}
		})
	}
}

func TestSimilarityQuery(t *testing.T) {
	vs := &PGVectorStore{tableName: "kresearch_knowledge"}

	t.Run("Session scoped", func(t *testing.T) {
		query, args, err := vs.similarityQuery(pgvector.NewVector([]float32{1, 0}), 5, map[string]any{"session_id": "s1"})
		require.NoError(t, err)
		assert.Contains(t, query, `FROM "kresearch_knowledge"`)
		assert.Contains(t, query, "WHERE metadata @> $2")
		assert.Contains(t, query, "LIMIT $3")
		require.Len(t, args, 3)
		assert.Equal(t, []byte(`{"session_id":"s1"}`), args[1])
		assert.Equal(t, 5, args[2])
	})

	t.Run("Unfiltered", func(t *testing.T) {
		query, args, err := vs.similarityQuery(pgvector.NewVector([]float32{1, 0}), 3, nil)
		require.NoError(t, err)
		assert.Contains(t, query, "WHERE TRUE")
		assert.Contains(t, query, "LIMIT $2")
		assert.Len(t, args, 2)
	})

	t.Run("Invalid filter", func(t *testing.T) {
		_, _, err := vs.similarityQuery(pgvector.NewVector([]float32{1}), 3, map[string]any{"$or": "x"})
		assert.Error(t, err)
	})
}
