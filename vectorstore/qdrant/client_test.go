package qdrant

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creastat/craftbot/vectorstore"
)

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestBuildQdrantFilter(t *testing.T) {
	assert.Nil(t, buildQdrantFilter(vectorstore.SearchFilter{MinScore: 0.5}))

	single := buildQdrantFilter(vectorstore.SearchFilter{Kinds: []string{"video"}})
	require.NotNil(t, single)
	require.Len(t, single.Must, 1)
	assert.Equal(t, "kind", single.Must[0].GetField().GetKey())
	assert.Equal(t, "video", single.Must[0].GetField().GetMatch().GetKeyword())

	multi := buildQdrantFilter(vectorstore.SearchFilter{
		Kinds:    []string{"video", "article"},
		Metadata: map[string]any{"lang": "en"},
	})
	require.Len(t, multi.Must, 2)
	assert.Equal(t, []string{"video", "article"}, multi.Must[0].GetField().GetMatch().GetKeywords().GetStrings())
}

func TestBuildMatchCondition(t *testing.T) {
	assert.Equal(t, int64(3), buildMatchCondition("n", 3).GetField().GetMatch().GetInteger())
	assert.True(t, buildMatchCondition("b", true).GetField().GetMatch().GetBoolean())
	assert.Equal(t, "1.5", buildMatchCondition("f", 1.5).GetField().GetMatch().GetKeyword())
}

func TestToResult(t *testing.T) {
	point := &qdrant.ScoredPoint{
		Id:    qdrant.NewIDNum(42),
		Score: 0.87,
		Payload: map[string]*qdrant.Value{
			"title": qdrant.NewValueString("Tin can lantern"),
			"url":   qdrant.NewValueString("https://youtu.be/x"),
			"kind":  qdrant.NewValueString("video"),
			"views": qdrant.NewValueInt(1200),
		},
	}

	r := toResult(point)
	assert.Equal(t, "42", r.ID)
	assert.Equal(t, "Tin can lantern", r.Title)
	assert.Equal(t, "https://youtu.be/x", r.URL)
	assert.Equal(t, "video", r.Kind)
	assert.Equal(t, int64(1200), r.Metadata["views"])
	assert.NotContains(t, r.Metadata, "title")
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw     string
		want    endpoint
		wantErr bool
	}{
		{raw: "qdrant.example.io", want: endpoint{host: "qdrant.example.io", port: 6334, tls: true}},
		{raw: "http://localhost:6334", want: endpoint{host: "localhost", port: 6334}},
		{raw: "http://localhost:6333", want: endpoint{host: "localhost", port: 6334}},
		{raw: "https://cloud.qdrant.io:7000", want: endpoint{host: "cloud.qdrant.io", port: 7000, tls: true}},
		{raw: "", wantErr: true},
		{raw: "http://:6334", wantErr: true},
		{raw: "http://localhost:port", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseEndpoint(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractValue(t *testing.T) {
	assert.Nil(t, extractValue(nil))
	assert.Equal(t, "x", extractValue(qdrant.NewValueString("x")))
	assert.Equal(t, 2.5, extractValue(qdrant.NewValueDouble(2.5)))
	assert.Equal(t, true, extractValue(qdrant.NewValueBool(true)))
}
