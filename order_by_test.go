package mongolite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sortDocs(t *testing.T, spec any, values ...map[string]any) []string {
	var docs Documents
	for _, v := range values {
		doc, err := NewDocumentFrom(v)
		assert.NoError(t, err)
		docs = append(docs, doc)
	}
	fields, err := parseSort(spec)
	assert.NoError(t, err)
	var ids []string
	for _, doc := range orderBy(fields, docs) {
		ids = append(ids, doc.DocID())
	}
	return ids
}

func TestOrderBy(t *testing.T) {
	t.Run("ascending numbers", func(t *testing.T) {
		ids := sortDocs(t, map[string]any{"a": 1},
			map[string]any{"_id": "x", "a": 3},
			map[string]any{"_id": "y", "a": 1},
			map[string]any{"_id": "z", "a": 2},
		)
		assert.Equal(t, []string{"y", "z", "x"}, ids)
	})
	t.Run("descending strings", func(t *testing.T) {
		ids := sortDocs(t, map[string]any{"a": -1},
			map[string]any{"_id": "x", "a": "apple"},
			map[string]any{"_id": "y", "a": "cherry"},
			map[string]any{"_id": "z", "a": "banana"},
		)
		assert.Equal(t, []string{"y", "z", "x"}, ids)
	})
	t.Run("missing and null sort first ascending", func(t *testing.T) {
		ids := sortDocs(t, map[string]any{"a": 1},
			map[string]any{"_id": "x", "a": 1},
			map[string]any{"_id": "y"},
			map[string]any{"_id": "z", "a": nil},
		)
		assert.Equal(t, []string{"y", "z", "x"}, ids)
	})
	t.Run("mixed number and string compare as strings", func(t *testing.T) {
		ids := sortDocs(t, map[string]any{"a": 1},
			map[string]any{"_id": "n", "a": 5},
			map[string]any{"_id": "s", "a": "10"},
		)
		assert.Equal(t, []string{"s", "n"}, ids)
	})
	t.Run("multi key with stable ties", func(t *testing.T) {
		ids := sortDocs(t, []map[string]any{{"a": 1}, {"b": -1}},
			map[string]any{"_id": "x", "a": 1, "b": 1},
			map[string]any{"_id": "y", "a": 1, "b": 2},
			map[string]any{"_id": "z", "a": 0, "b": 9},
		)
		assert.Equal(t, []string{"z", "y", "x"}, ids)
	})
}
