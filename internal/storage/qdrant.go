package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"rail-conflict-advisor/internal/config"
	adverrors "rail-conflict-advisor/internal/errors"
	"rail-conflict-advisor/internal/logging"
	"rail-conflict-advisor/internal/types"
)

const (
	defaultQdrantCollection = "rail_conflict_cases"
	scrollPageSize          = 1000
)

// QdrantCaseStore stores one point per case. Filterable fields are keyword
// payload indexes; the attempt history is a JSON string payload.
type QdrantCaseStore struct {
	client         *qdrant.Client
	collectionName string
	dims           int
	logger         logging.Logger
	appendLocks    *KeyedMutex
}

// NewQdrantCaseStore connects and makes sure the collection and indexes exist
func NewQdrantCaseStore(ctx context.Context, cfg config.QdrantConfig, dims int, logger logging.Logger) (*QdrantCaseStore, error) {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	collection := cfg.Collection
	if collection == "" {
		collection = defaultQdrantCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	qs := &QdrantCaseStore{
		client:         client,
		collectionName: collection,
		dims:           dims,
		logger:         logger.WithComponent("qdrant_case_store"),
		appendLocks:    NewKeyedMutex(),
	}
	if err := qs.initialize(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return qs, nil
}

func (qs *QdrantCaseStore) initialize(ctx context.Context) error {
	collections, err := qs.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == qs.collectionName {
			qs.logger.Info("Qdrant collection found", "collection", qs.collectionName)
			return nil
		}
	}

	err = qs.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: qs.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(qs.dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", qs.collectionName, err)
	}

	for _, field := range []string{"conflict_type", "station"} {
		_, err := qs.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: qs.collectionName,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("failed to index %s: %w", field, err)
		}
	}

	qs.logger.Info("Created Qdrant collection", "collection", qs.collectionName, "dimensions", qs.dims)
	return nil
}

func (qs *QdrantCaseStore) Get(ctx context.Context, id string) (*types.ConflictCase, error) {
	points, err := qs.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: qs.collectionName,
		Ids:            []*qdrant.PointId{stringToPointID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get case %s from Qdrant: %w", id, err)
	}
	if len(points) == 0 {
		return nil, adverrors.NewNotFoundError("case", id)
	}
	return pointToCase(points[0].GetId(), points[0].GetPayload(), float32ToFloat64(points[0].GetVectors().GetVector().GetData()))
}

func (qs *QdrantCaseStore) Put(ctx context.Context, c *types.ConflictCase) error {
	if err := checkCase(c, qs.dims); err != nil {
		return err
	}
	point, err := caseToPoint(c)
	if err != nil {
		return err
	}

	_, err = qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qs.collectionName,
		Wait:           qdrant.PtrOf(true),
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return fmt.Errorf("failed to store case in Qdrant: %w", err)
	}

	qs.logger.Debug("Stored case in Qdrant", "id", c.ID, "conflict_type", c.ConflictType, "station", c.Station)
	return nil
}

// Query scrolls every filtered point, page by page; Qdrant applies the
// keyword filter
func (qs *QdrantCaseStore) Query(ctx context.Context, filter CaseFilter) ([]*types.ConflictCase, error) {
	qfilter := buildFilter(filter)
	points, err := scrollAll(ctx, scrollPageSize, filter.Limit, func(ctx context.Context, offset *qdrant.PointId, limit uint32) ([]*qdrant.RetrievedPoint, error) {
		return qs.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: qs.collectionName,
			Filter:         qfilter,
			Offset:         offset,
			Limit:          qdrant.PtrOf(limit),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query cases: %w", err)
	}

	cases := make([]*types.ConflictCase, 0, len(points))
	for _, point := range points {
		c, err := pointToCase(point.GetId(), point.GetPayload(), float32ToFloat64(point.GetVectors().GetVector().GetData()))
		if err != nil {
			qs.logger.Error("Failed to convert point to case", "error", err, "point_id", pointIDToString(point.GetId()))
			continue
		}
		cases = append(cases, c)
	}
	return cases, nil
}

// Search runs a filtered nearest-neighbor query; the collection uses cosine
// distance, so point scores are cosine similarities
func (qs *QdrantCaseStore) Search(ctx context.Context, query []float64, filter CaseFilter, k int) ([]ScoredCase, error) {
	if k <= 0 || len(query) != qs.dims {
		return nil, nil
	}

	points, err := qs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qs.collectionName,
		Query:          qdrant.NewQuery(float64ToFloat32(query)...),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search cases: %w", err)
	}
	return qs.scoredPointsToCases(points), nil
}

func (qs *QdrantCaseStore) scoredPointsToCases(points []*qdrant.ScoredPoint) []ScoredCase {
	scored := make([]ScoredCase, 0, len(points))
	for _, point := range points {
		c, err := pointToCase(point.GetId(), point.GetPayload(), float32ToFloat64(point.GetVectors().GetVector().GetData()))
		if err != nil {
			qs.logger.Error("Failed to convert point to case", "error", err, "point_id", pointIDToString(point.GetId()))
			continue
		}
		scored = append(scored, ScoredCase{Case: c, Similarity: float64(point.GetScore())})
	}
	return scored
}

type scrollFunc func(ctx context.Context, offset *qdrant.PointId, limit uint32) ([]*qdrant.RetrievedPoint, error)

// scrollAll pages through a scroll until it is exhausted or max points were
// read (maxPoints <= 0 reads everything). Each page asks for one extra point whose
// id is the inclusive offset of the next page.
func scrollAll(ctx context.Context, pageSize, maxPoints int, fetch scrollFunc) ([]*qdrant.RetrievedPoint, error) {
	var (
		out    []*qdrant.RetrievedPoint
		offset *qdrant.PointId
	)
	for {
		want := pageSize
		if maxPoints > 0 && maxPoints-len(out) < want {
			want = maxPoints - len(out)
		}
		page, err := fetch(ctx, offset, uint32(want+1))
		if err != nil {
			return nil, err
		}
		if len(page) <= want {
			return append(out, page...), nil
		}
		out = append(out, page[:want]...)
		if maxPoints > 0 && len(out) >= maxPoints {
			return out, nil
		}
		offset = page[want].GetId()
	}
}

// AppendAttempt rewrites only the attempts payload; calls for one case are serialized
func (qs *QdrantCaseStore) AppendAttempt(ctx context.Context, caseID string, attempt types.StrategyAttempt) error {
	unlock := qs.appendLocks.Lock(caseID)
	defer unlock()

	c, err := qs.Get(ctx, caseID)
	if err != nil {
		return err
	}
	c.Attempts = append(c.Attempts, attempt)

	attemptsJSON, err := json.Marshal(c.Attempts)
	if err != nil {
		return fmt.Errorf("failed to encode attempts: %w", err)
	}

	_, err = qs.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: qs.collectionName,
		Wait:           qdrant.PtrOf(true),
		Payload:        map[string]*qdrant.Value{"attempts": stringToValue(string(attemptsJSON))},
		PointsSelector: qdrant.NewPointsSelector(stringToPointID(caseID)),
	})
	if err != nil {
		return fmt.Errorf("failed to append attempt to case %s: %w", caseID, err)
	}
	return nil
}

func (qs *QdrantCaseStore) Count(ctx context.Context) (int, error) {
	n, err := qs.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: qs.collectionName,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count cases: %w", err)
	}
	return int(n), nil
}

func (qs *QdrantCaseStore) Close() error {
	qs.logger.Info("Qdrant connection closed")
	return qs.client.Close()
}

func buildFilter(filter CaseFilter) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, 2)
	if filter.ConflictType != "" {
		conditions = append(conditions, keywordCondition("conflict_type", string(filter.ConflictType)))
	}
	if filter.Station != "" {
		conditions = append(conditions, keywordCondition("station", filter.Station))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func caseToPoint(c *types.ConflictCase) (*qdrant.PointStruct, error) {
	attempts := c.Attempts
	if attempts == nil {
		attempts = []types.StrategyAttempt{}
	}
	attemptsJSON, err := json.Marshal(attempts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attempts: %w", err)
	}

	payload := map[string]*qdrant.Value{
		"conflict_type":        stringToValue(string(c.ConflictType)),
		"severity":             stringToValue(string(c.Severity)),
		"station":              stringToValue(c.Station),
		"time_of_day":          stringToValue(string(c.TimeOfDay)),
		"description":          stringToValue(c.Description),
		"delay_before_minutes": doubleToValue(c.DelayBeforeMinutes),
		"created_at":           int64ToValue(c.CreatedAt.UnixNano()),
		"attempts":             stringToValue(string(attemptsJSON)),
	}

	return &qdrant.PointStruct{
		Id:      stringToPointID(c.ID),
		Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: float64ToFloat32(c.Embedding)}}},
		Payload: payload,
	}, nil
}

func pointToCase(id *qdrant.PointId, payload map[string]*qdrant.Value, embedding []float64) (*types.ConflictCase, error) {
	createdAt, ok := payload["created_at"]
	if !ok {
		return nil, fmt.Errorf("missing created_at in payload")
	}

	var attempts []types.StrategyAttempt
	if raw := stringFromPayload(payload, "attempts"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &attempts); err != nil {
			return nil, fmt.Errorf("corrupt attempts payload: %w", err)
		}
	}

	return &types.ConflictCase{
		ID:                 pointIDToString(id),
		ConflictType:       types.ConflictType(stringFromPayload(payload, "conflict_type")),
		Severity:           types.Severity(stringFromPayload(payload, "severity")),
		Station:            stringFromPayload(payload, "station"),
		TimeOfDay:          types.TimeOfDay(stringFromPayload(payload, "time_of_day")),
		Description:        stringFromPayload(payload, "description"),
		DelayBeforeMinutes: payload["delay_before_minutes"].GetDoubleValue(),
		Embedding:          embedding,
		Attempts:           attempts,
		CreatedAt:          time.Unix(0, createdAt.GetIntegerValue()).UTC(),
	}, nil
}

func stringToValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func int64ToValue(i int64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: i}}
}

func doubleToValue(f float64) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: f}}
}

func stringToPointID(s string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: s}}
}

func pointIDToString(id *qdrant.PointId) string {
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func float64ToFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

func float32ToFloat64(f32 []float32) []float64 {
	f64 := make([]float64, len(f32))
	for i, v := range f32 {
		f64[i] = float64(v)
	}
	return f64
}

func stringFromPayload(payload map[string]*qdrant.Value, key string) string {
	if value, ok := payload[key]; ok {
		return value.GetStringValue()
	}
	return ""
}
