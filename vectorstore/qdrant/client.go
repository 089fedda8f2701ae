package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/creastat/craftbot/vectorstore"
)

// Config holds Qdrant connection configuration.
type Config struct {
	// URL is the Qdrant server address (e.g., "https://example.qdrant.io:6334").
	// A missing scheme means https.
	URL string

	// CollectionName is the name of the collection to search. Default: craft_tutorials.
	CollectionName string

	// APIKey is optional API key for authentication.
	APIKey string
}

const (
	// DefaultCollection holds embedded craft tutorials.
	DefaultCollection = "craft_tutorials"

	grpcPort = 6334
	restPort = 6333

	defaultLimit = 3
)

// Client implements vectorstore.VectorStore for Qdrant.
type Client struct {
	client     *qdrant.Client
	collection string
}

// endpoint is the gRPC address derived from a configured URL.
type endpoint struct {
	host string
	port int
	tls  bool
}

// parseEndpoint accepts host, host:port or a full URL. The REST port is
// mapped to the gRPC port since the client speaks gRPC.
func parseEndpoint(raw string) (endpoint, error) {
	if raw == "" {
		return endpoint{}, errors.New("qdrant url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("failed to parse qdrant url: %w", err)
	}
	if u.Hostname() == "" {
		return endpoint{}, fmt.Errorf("qdrant url %q has no host", raw)
	}

	ep := endpoint{host: u.Hostname(), port: grpcPort, tls: u.Scheme == "https"}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return endpoint{}, fmt.Errorf("invalid qdrant port %q: %w", p, err)
		}
		if n != restPort {
			ep.port = n
		}
	}
	return ep, nil
}

// New creates a new Qdrant client.
func New(cfg Config) (*Client, error) {
	ep, err := parseEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}
	collection := cfg.CollectionName
	if collection == "" {
		collection = DefaultCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   ep.host,
		Port:   ep.port,
		APIKey: cfg.APIKey,
		UseTLS: ep.tls,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &Client{client: client, collection: collection}, nil
}

// Search implements vectorstore.VectorStore.
func (c *Client) Search(ctx context.Context, vector []float32, filter vectorstore.SearchFilter, limit int) ([]vectorstore.SearchResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	n := uint64(limit)

	query := &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &n,
		Filter:         buildQdrantFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter.MinScore > 0 {
		query.ScoreThreshold = &filter.MinScore
	}

	points, err := c.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant search in %s: %w", c.collection, err)
	}

	results := make([]vectorstore.SearchResult, 0, len(points))
	for _, point := range points {
		// The server applies the threshold too; older servers ignore it.
		if point.Score < filter.MinScore {
			continue
		}
		results = append(results, toResult(point))
	}
	return results, nil
}

// toResult maps a scored point and its tutorial payload to a SearchResult.
func toResult(point *qdrant.ScoredPoint) vectorstore.SearchResult {
	result := vectorstore.SearchResult{
		Score:    point.Score,
		Metadata: make(map[string]any),
	}

	if id := point.GetId(); id != nil {
		if u := id.GetUuid(); u != "" {
			result.ID = u
		} else {
			result.ID = strconv.FormatUint(id.GetNum(), 10)
		}
	}

	for key, value := range point.GetPayload() {
		switch key {
		case "title":
			result.Title = value.GetStringValue()
		case "url":
			result.URL = value.GetStringValue()
		case "kind":
			result.Kind = value.GetStringValue()
		case "content":
			result.Content = value.GetStringValue()
		default:
			result.Metadata[key] = extractValue(value)
		}
	}
	return result
}

// Close implements vectorstore.VectorStore.
func (c *Client) Close() error {
	return c.client.Close()
}

// buildQdrantFilter turns a SearchFilter into must-match conditions. An
// empty filter yields nil so the query is unfiltered.
func buildQdrantFilter(filter vectorstore.SearchFilter) *qdrant.Filter {
	var must []*qdrant.Condition

	switch len(filter.Kinds) {
	case 0:
	case 1:
		must = append(must, qdrant.NewMatchKeyword("kind", filter.Kinds[0]))
	default:
		must = append(must, qdrant.NewMatchKeywords("kind", filter.Kinds...))
	}
	for key, value := range filter.Metadata {
		must = append(must, buildMatchCondition(key, value))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// buildMatchCondition matches key exactly. Values without a native match
// kind are compared as keywords.
func buildMatchCondition(key string, value any) *qdrant.Condition {
	switch v := value.(type) {
	case string:
		return qdrant.NewMatchKeyword(key, v)
	case int:
		return qdrant.NewMatchInt(key, int64(v))
	case int64:
		return qdrant.NewMatchInt(key, v)
	case bool:
		return qdrant.NewMatchBool(key, v)
	default:
		return qdrant.NewMatchKeyword(key, fmt.Sprint(v))
	}
}

func extractValue(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}

var _ vectorstore.VectorStore = (*Client)(nil)
