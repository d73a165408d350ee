package vectorstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractHit(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]any
		wantID  string
		wantSc  float64
		wantErr bool
	}{
		{
			name:   "underscore keys",
			raw:    map[string]any{"_id": "a#0", "_score": 0.5, "fields": map[string]any{"file_id": "a"}},
			wantID: "a#0", wantSc: 0.5,
		},
		{
			name:   "plain keys",
			raw:    map[string]any{"id": "b#1", "score": float32(2), "metadata": map[string]any{}},
			wantID: "b#1", wantSc: 2,
		},
		{
			name:   "json number score",
			raw:    map[string]any{"id": "c#2", "score": json.Number("1.25")},
			wantID: "c#2", wantSc: 1.25,
		},
		{name: "nil", raw: nil, wantErr: true},
		{name: "missing id", raw: map[string]any{"score": 1.0}, wantErr: true},
		{name: "missing score", raw: map[string]any{"id": "x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hit, err := ExtractHit(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedHit)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, hit.ID)
			assert.InDelta(t, tt.wantSc, hit.Score, 1e-9)
			assert.NotNil(t, hit.Metadata)
		})
	}
}

func TestExtractHit_PrefersFields(t *testing.T) {
	hit, err := ExtractHit(map[string]any{
		"_id":      "a#0",
		"_score":   1.0,
		"fields":   map[string]any{"src": "fields"},
		"metadata": map[string]any{"src": "metadata"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fields", hit.Metadata["src"])
}

func TestMetadataInt(t *testing.T) {
	md := map[string]any{"a": int64(3), "b": 4.0, "c": "5", "d": "x"}

	n, ok := MetadataInt(md, "a")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	n, ok = MetadataInt(md, "b")
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	n, ok = MetadataInt(md, "c")
	assert.True(t, ok)
	assert.Equal(t, 5, n)

	_, ok = MetadataInt(md, "d")
	assert.False(t, ok)

	_, ok = MetadataInt(md, "missing")
	assert.False(t, ok)
}

func TestFileTypesFilter(t *testing.T) {
	assert.Nil(t, FileTypes())
	f := FileTypes("md", "go")
	assert.False(t, f.Empty())
	assert.Equal(t, []string{"md", "go"}, f[FieldFileType])
	assert.True(t, Filter{"file_type": nil}.Empty())
}

func TestPointIDDeterministic(t *testing.T) {
	assert.Equal(t, PointID("doc#1"), PointID("doc#1"))
	assert.NotEqual(t, PointID("doc#1"), PointID("doc#2"))
}
