package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// Vector field names inside a collection
	denseVectorName  = "dense"
	sparseVectorName = "sparse"

	// payloadIDKey keeps the chunk ID, since Qdrant point IDs must be UUIDs.
	payloadIDKey = "_id"
)

// chunkNamespace seeds the deterministic point UUIDs derived from chunk IDs.
var chunkNamespace = uuid.MustParse("6f1e8a52-3c1b-4f0e-9a57-2d4b8c9e7a10")

// DenseEncoder turns text into dense embedding vectors.
type DenseEncoder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// SparseEncoder turns text into a sparse lexical vector.
type SparseEncoder interface {
	Encode(text string) *SparseVector
}

// NewQdrantClient creates a Qdrant gRPC client.
// addr should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantClient(addr, apiKey string, useTLS bool) (*qdrant.Client, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// If no port specified, assume default
		host = addr
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant address: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return client, nil
}

// QdrantIndex is a TextIndex backed by one Qdrant collection holding a single
// named vector, either dense or sparse.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	kind       Kind
	dense      DenseEncoder
	sparse     SparseEncoder
	logger     *slog.Logger
}

// NewDenseQdrantIndex creates a dense index over collection.
func NewDenseQdrantIndex(client *qdrant.Client, collection string, enc DenseEncoder) *QdrantIndex {
	return &QdrantIndex{
		client:     client,
		collection: collection,
		kind:       KindDense,
		dense:      enc,
		logger:     slog.Default(),
	}
}

// NewSparseQdrantIndex creates a sparse index over collection.
func NewSparseQdrantIndex(client *qdrant.Client, collection string, enc SparseEncoder) *QdrantIndex {
	return &QdrantIndex{
		client:     client,
		collection: collection,
		kind:       KindSparse,
		sparse:     enc,
		logger:     slog.Default(),
	}
}

func (s *QdrantIndex) Kind() Kind   { return s.kind }
func (s *QdrantIndex) Name() string { return s.collection }

// Close is a no-op; the shared client is closed by whoever created it.
func (s *QdrantIndex) Close() error { return nil }

// wrap annotates a client error and maps NotFound to ErrIndexNotFound.
func (s *QdrantIndex) wrap(op string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("failed to %s %s: %w: %w", op, s.collection, ErrIndexNotFound, err)
	}
	return fmt.Errorf("failed to %s %s: %w", op, s.collection, err)
}

// EnsureIndex creates the collection if it does not exist, otherwise checks
// that it carries the named vector this index writes.
func (s *QdrantIndex) EnsureIndex(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return s.wrap("check collection", err)
	}

	if exists {
		return s.validate(ctx)
	}

	req := &qdrant.CreateCollection{CollectionName: s.collection}
	if s.kind == KindDense {
		req.VectorsConfig = qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: {
				Size:     uint64(s.dense.Dimension()),
				Distance: qdrant.Distance_Cosine,
			},
		})
	} else {
		req.SparseVectorsConfig = qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {Modifier: qdrant.Modifier_Idf.Enum()},
		})
	}

	if err := s.client.CreateCollection(ctx, req); err != nil {
		return s.wrap("create collection", err)
	}

	for _, field := range []string{FieldFileID, FieldFileType} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return s.wrap("create payload index", err)
		}
	}

	s.logger.Info("created collection", "collection", s.collection, "kind", s.kind)
	return nil
}

func (s *QdrantIndex) validate(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return s.wrap("get collection info", err)
	}

	params := info.GetConfig().GetParams()
	switch s.kind {
	case KindDense:
		vp, ok := params.GetVectorsConfig().GetParamsMap().GetMap()[denseVectorName]
		if !ok {
			return fmt.Errorf("%w: %s has no %q vector", ErrIncompatibleIndex, s.collection, denseVectorName)
		}
		if want := uint64(s.dense.Dimension()); vp.GetSize() != want {
			return fmt.Errorf("%w: %s has dimension %d, embedder produces %d",
				ErrIncompatibleIndex, s.collection, vp.GetSize(), want)
		}
	case KindSparse:
		if _, ok := params.GetSparseVectorsConfig().GetMap()[sparseVectorName]; !ok {
			return fmt.Errorf("%w: %s has no %q sparse vector", ErrIncompatibleIndex, s.collection, sparseVectorName)
		}
	}
	return nil
}

// Upsert encodes and writes records.
func (s *QdrantIndex) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	var denseVecs [][]float32
	if s.kind == KindDense {
		texts := make([]string, len(records))
		for i, r := range records {
			texts[i] = r.Text
		}
		var err error
		denseVecs, err = s.dense.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed records: %w", err)
		}
	}

	points := make([]*qdrant.PointStruct, 0, len(records))
	for i, rec := range records {
		var vec *qdrant.Vector
		if s.kind == KindDense {
			vec = &qdrant.Vector{Data: denseVecs[i]}
		} else {
			sv := s.sparse.Encode(rec.Text)
			if sv == nil || len(sv.Indices) == 0 {
				s.logger.Debug("skipping record without lexical terms", "id", rec.ID)
				continue
			}
			vec = &qdrant.Vector{
				Indices: &qdrant.SparseIndices{Data: sv.Indices},
				Data:    sv.Values,
			}
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(rec.ID)),
			Payload: toPayload(rec),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vectors{
					Vectors: &qdrant.NamedVectors{
						Vectors: map[string]*qdrant.Vector{s.vectorName(): vec},
					},
				},
			},
		})
	}
	if len(points) == 0 {
		return nil
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return s.wrap("upsert points", err)
	}

	return nil
}

// Search encodes text and queries the collection's named vector.
func (s *QdrantIndex) Search(ctx context.Context, text string, topK int, filter Filter) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}

	var query *qdrant.Query
	if s.kind == KindDense {
		vec, err := s.dense.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		query = qdrant.NewQueryDense(vec)
	} else {
		sv := s.sparse.Encode(text)
		if sv == nil || len(sv.Indices) == 0 {
			return nil, nil
		}
		query = qdrant.NewQuerySparse(sv.Indices, sv.Values)
	}

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          query,
		Using:          qdrant.PtrOf(s.vectorName()),
		Filter:         filter.qdrantFilter(),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, s.wrap("search", err)
	}

	hits := make([]Hit, 0, len(response))
	for _, point := range response {
		md := fromPayload(point.GetPayload())
		id, _ := md[payloadIDKey].(string)
		delete(md, payloadIDKey)
		if id == "" {
			id = point.GetId().GetUuid()
		}

		hit, err := ExtractHit(map[string]any{
			"_id":      id,
			"_score":   float64(point.GetScore()),
			"metadata": md,
		})
		if err != nil {
			continue
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// DeleteByDocument removes chunks by document ID
func (s *QdrantIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						qdrant.NewMatch(FieldFileID, documentID),
					},
				},
			},
		},
	})
	if err != nil {
		return s.wrap("delete by document", err)
	}

	return nil
}

// DeleteByIDs removes specific chunks by their chunk IDs
func (s *QdrantIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(PointID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: pointIDs,
				},
			},
		},
	})
	if err != nil {
		return s.wrap("delete by ids", err)
	}

	return nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantIndex) Count(ctx context.Context) (uint64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, s.wrap("count points", err)
	}
	return n, nil
}

func (s *QdrantIndex) vectorName() string {
	if s.kind == KindDense {
		return denseVectorName
	}
	return sparseVectorName
}

// PointID derives the Qdrant point UUID for a chunk ID.
func PointID(chunkID string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(chunkID)).String()
}

func toPayload(rec Record) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(rec.Metadata)+2)
	for k, v := range rec.Metadata {
		payload[k] = toValue(v)
	}
	payload[payloadIDKey] = qdrant.NewValueString(rec.ID)
	payload[FieldText] = qdrant.NewValueString(rec.Text)
	return payload
}

func toValue(v any) *qdrant.Value {
	switch x := v.(type) {
	case string:
		return qdrant.NewValueString(x)
	case int:
		return qdrant.NewValueInt(int64(x))
	case int64:
		return qdrant.NewValueInt(x)
	case float64:
		return qdrant.NewValueDouble(x)
	case bool:
		return qdrant.NewValueBool(x)
	case time.Time:
		return qdrant.NewValueString(x.UTC().Format(time.RFC3339))
	default:
		return qdrant.NewValueString(fmt.Sprint(x))
	}
}

func fromPayload(payload map[string]*qdrant.Value) map[string]any {
	md := make(map[string]any, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			md[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			md[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			md[k] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			md[k] = kind.BoolValue
		}
	}
	return md
}

var _ TextIndex = (*QdrantIndex)(nil)
