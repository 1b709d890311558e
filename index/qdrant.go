package index

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/fabfab/fund-agent/embeddings"
	"github.com/fabfab/fund-agent/ingestion"
)

// QdrantConfig holds Qdrant connection configuration.
type QdrantConfig struct {
	// URL is the Qdrant server address (e.g., "http://localhost:6334").
	URL string

	// APIKey is optional API key for authentication.
	APIKey string
}

// qdrantAPI is the slice of qdrant.Client the store uses. Tests substitute it.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// QdrantStore keeps one Qdrant collection per session id.
type QdrantStore struct {
	client qdrantAPI
}

// NewQdrantStore creates a Qdrant-backed store. No I/O happens until the
// first Build or Open.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}

	parsedURL := cfg.URL
	if !strings.HasPrefix(parsedURL, "http://") && !strings.HasPrefix(parsedURL, "https://") {
		parsedURL = "https://" + parsedURL
	}

	u, err := url.Parse(parsedURL)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}

	host := u.Hostname()
	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	return &QdrantStore{client: client}, nil
}

func (s *QdrantStore) Build(ctx context.Context, sessionID string, docs []ingestion.Document, embedder embeddings.Embedder) (Handle, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents to index")
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, &BackendError{Op: "embed documents", Err: err}
	}
	if len(vectors) != len(docs) {
		return nil, &BackendError{Op: "embed documents", Err: fmt.Errorf("have %d documents, %d vectors", len(docs), len(vectors))}
	}

	if err := s.ensureCollection(ctx, sessionID, len(vectors[0])); err != nil {
		return nil, err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		payload := map[string]any{
			"content": doc.Text,
			"source":  doc.SourceID,
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewString()),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: sessionID,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	}); err != nil {
		return nil, &BackendError{Op: "upsert points", Err: err}
	}

	return &qdrantHandle{client: s.client, sessionID: sessionID, embedder: embedder}, nil
}

func (s *QdrantStore) Open(ctx context.Context, sessionID string, embedder embeddings.Embedder) (Handle, error) {
	exists, err := s.client.CollectionExists(ctx, sessionID)
	if err != nil {
		return nil, &BackendError{Op: "check collection", Err: err}
	}
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}

	return &qdrantHandle{client: s.client, sessionID: sessionID, embedder: embedder}, nil
}

func (s *QdrantStore) Drop(ctx context.Context, sessionID string) error {
	if err := s.client.DeleteCollection(ctx, sessionID); err != nil {
		return &BackendError{Op: "delete collection", Err: err}
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// ensureCollection implements the get-or-create half of Build.
func (s *QdrantStore) ensureCollection(ctx context.Context, sessionID string, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, sessionID)
	if err != nil {
		return &BackendError{Op: "check collection", Err: err}
	}
	if exists {
		return nil
	}

	if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: sessionID,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return &BackendError{Op: "create collection", Err: err}
	}
	return nil
}

type qdrantHandle struct {
	client    qdrantAPI
	sessionID string
	embedder  embeddings.Embedder
}

func (h *qdrantHandle) SessionID() string {
	return h.sessionID
}

func (h *qdrantHandle) Search(ctx context.Context, query string, limit int) ([]Passage, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vectors, err := h.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &BackendError{Op: "embed query", Err: err}
	}
	if len(vectors) == 0 {
		return nil, &BackendError{Op: "embed query", Err: fmt.Errorf("embedder returned no vectors")}
	}

	limitUint64 := uint64(limit)
	points, err := h.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: h.sessionID,
		Query:          qdrant.NewQuery(vectors[0]...),
		Limit:          &limitUint64,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &BackendError{Op: "query points", Err: err}
	}

	passages := make([]Passage, 0, len(points))
	for _, point := range points {
		passage := Passage{Score: float64(point.Score)}

		if point.Id != nil {
			if id := point.Id.GetUuid(); id != "" {
				passage.ID = id
			} else if num := point.Id.GetNum(); num != 0 {
				passage.ID = strconv.FormatUint(num, 10)
			}
		}

		for k, v := range point.Payload {
			switch k {
			case "content":
				passage.Content = v.GetStringValue()
			case "source":
				passage.Source = v.GetStringValue()
			case "title":
				passage.Title = v.GetStringValue()
			}
		}

		passages = append(passages, passage)
	}

	return passages, nil
}

var (
	_ Store  = (*QdrantStore)(nil)
	_ Handle = (*qdrantHandle)(nil)
)
