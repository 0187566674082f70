package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/ffi-copilot/internal/document"
)

const vectorName = "content"

// QdrantStorage is a Store backed by a Qdrant server over gRPC.
// Qdrant only accepts UUID or integer point IDs, so each chunk is stored
// under document.PointUUID(id) and the content ID travels in the payload.
type QdrantStorage struct {
	client     *qdrant.Client
	host       string
	port       int
	collection string
	dimension  int
}

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStorage(host string, port int, collection string, dimension int) (*QdrantStorage, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	storage := &QdrantStorage{
		client:     client,
		host:       host,
		port:       port,
		collection: collection,
		dimension:  dimension,
	}

	ctx := context.Background()
	if err := storage.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return storage, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(exponentialBackoff, ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection with a cosine "content" vector and
// keyword indexes on the filterable payload fields. Idempotent.
func (s *QdrantStorage) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if err := s.createPayloadIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create payload indexes: %w", err)
	}
	return nil
}

func (s *QdrantStorage) createPayloadIndexes(ctx context.Context) error {
	fields := []string{
		metaSource,    // Inspect and re-index by file
		metaDocType,   // Category filter for retrieval
		metaContentID, // Duplicate detection
	}

	for _, field := range fields {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

// Add upserts chunks in batches of 100 after checking that none of them is
// already stored or repeated within the batch.
func (s *QdrantStorage) Add(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := checkDimensions(chunks, s.dimension); err != nil {
		return err
	}
	if err := checkBatchIDs(chunks); err != nil {
		return err
	}

	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	existing, err := s.Exists(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if existing[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateID, id)
		}
	}

	batchSize := 100
	for i := 0; i < len(chunks); i += batchSize {
		end := min(i+batchSize, len(chunks))

		batch := chunks[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, chunk := range batch {
			points[j] = &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(document.PointUUID(chunk.ID)),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					vectorName: qdrant.NewVector(chunk.Embedding...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					metaContentID: chunk.ID,
					metaSource:    chunk.Source,
					metaDocType:   string(chunk.DocType),
					metaPage:      chunk.Page,
					metaChunk:     chunk.ChunkIndex,
					metaText:      chunk.Text,
				}),
			}
		}

		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// Query performs a vector similarity search using the named "content" vector.
func (s *QdrantStorage) Query(ctx context.Context, embedding []float32, k int, filter *Filter) ([]*Match, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), s.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	var qf *qdrant.Filter
	if !filter.empty() {
		qf = &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch(metaDocType, string(filter.DocType)),
			},
		}
	}

	using := vectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(embedding...),
		Using:          &using,
		Filter:         qf,
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	matches := make([]*Match, 0, len(results))
	for _, result := range results {
		payload := result.Payload
		matches = append(matches, &Match{
			Chunk: &Chunk{
				ID:         payload[metaContentID].GetStringValue(),
				Source:     payload[metaSource].GetStringValue(),
				DocType:    document.DocType(payload[metaDocType].GetStringValue()),
				Page:       int(payload[metaPage].GetIntegerValue()),
				ChunkIndex: int(payload[metaChunk].GetIntegerValue()),
				Text:       payload[metaText].GetStringValue(),
			},
			Score: float64(result.Score),
		})
	}
	return matches, nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStorage) Count(ctx context.Context) (int, error) {
	return s.count(ctx, nil)
}

func (s *QdrantStorage) count(ctx context.Context, filter *qdrant.Filter) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// Exists looks up the point UUIDs derived from ids.
func (s *QdrantStorage) Exists(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	byPoint := make(map[string]string, len(ids))
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pid := document.PointUUID(id)
		if _, seen := byPoint[pid]; seen {
			continue
		}
		byPoint[pid] = id
		pointIDs = append(pointIDs, qdrant.NewIDUUID(pid))
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(false),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get points: %w", err)
	}
	for _, p := range points {
		if id, ok := byPoint[p.Id.GetUuid()]; ok {
			found[id] = true
		}
	}
	return found, nil
}

// HasDocType counts points matching the category.
func (s *QdrantStorage) HasDocType(ctx context.Context, docType document.DocType) (bool, error) {
	n, err := s.count(ctx, &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(metaDocType, string(docType)),
		},
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Clear deletes the collection and recreates it empty.
func (s *QdrantStorage) Clear(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return s.EnsureCollection(ctx)
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var _ Store = (*QdrantStorage)(nil)
