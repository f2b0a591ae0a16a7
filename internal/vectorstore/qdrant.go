// Package vectorstore mirrors agent memories into Qdrant so the API
// can answer semantic search across every resident at once. The
// append-only stores inside the agents stay authoritative; the mirror
// is rebuilt on demand and is allowed to lag.
package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jiejieje/alien-town/internal/memory"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// pointNamespace makes mirror point ids deterministic: the same
// agent/record pair always maps to the same uuid, so re-indexing
// after a resume overwrites instead of duplicating.
var pointNamespace = uuid.MustParse("9f2c1b34-55aa-4c1e-b1de-0d3a2f6c7e81")

// Mirror is the Qdrant-backed cross-agent memory index.
type Mirror struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string
	logger      *zap.Logger
}

// NewMirror dials Qdrant and ensures the collection exists with the
// given vector dimension.
func NewMirror(ctx context.Context, cfg Config, dimension int, logger *zap.Logger) (*Mirror, error) {
	if cfg.Collection == "" {
		cfg.Collection = "town_memories"
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	m := &Mirror{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		collection:  cfg.Collection,
		logger:      logger,
	}
	if err := m.ensureCollection(ctx, uint64(dimension)); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

func (m *Mirror) ensureCollection(ctx context.Context, dimension uint64) error {
	_, err := m.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: m.collection})
	if err == nil {
		return nil
	}
	_, err = m.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: m.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", m.collection, err)
	}
	return nil
}

// Index upserts one record into the mirror. It satisfies
// agent.Indexer: errors are logged, never surfaced, because losing a
// mirror entry must not disturb a cognition cycle.
func (m *Mirror) Index(ctx context.Context, agentID string, rec *memory.Record) {
	if len(rec.Embedding) == 0 {
		return
	}
	pointID := uuid.NewSHA1(pointNamespace, []byte(agentID+":"+strconv.FormatInt(rec.ID, 10))).String()
	payload := map[string]*pb.Value{
		"agent":   {Kind: &pb.Value_StringValue{StringValue: agentID}},
		"record":  {Kind: &pb.Value_StringValue{StringValue: strconv.FormatInt(rec.ID, 10)}},
		"kind":    {Kind: &pb.Value_StringValue{StringValue: string(rec.Kind)}},
		"content": {Kind: &pb.Value_StringValue{StringValue: rec.Content}},
	}
	_, err := m.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: m.collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: rec.Embedding}}},
				Payload: payload,
			},
		},
	})
	if err != nil {
		m.logger.Warn("memory mirror upsert failed",
			zap.String("agent", agentID),
			zap.Int64("record", rec.ID),
			zap.Error(err))
	}
}

// Hit is one cross-agent search result.
type Hit struct {
	AgentID  string  `json:"agent_id"`
	RecordID int64   `json:"record_id"`
	Kind     string  `json:"kind"`
	Content  string  `json:"content"`
	Score    float32 `json:"score"`
}

// Search runs a nearest-neighbor query over all mirrored memories.
func (m *Mirror) Search(ctx context.Context, vector []float32, limit int) ([]*Hit, error) {
	resp, err := m.points.Search(ctx, &pb.SearchPoints{
		CollectionName: m.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", m.collection, err)
	}
	hits := make([]*Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		h := &Hit{Score: r.Score}
		for k, v := range r.Payload {
			sv, ok := v.Kind.(*pb.Value_StringValue)
			if !ok {
				continue
			}
			switch k {
			case "agent":
				h.AgentID = sv.StringValue
			case "record":
				h.RecordID, _ = strconv.ParseInt(sv.StringValue, 10, 64)
			case "kind":
				h.Kind = sv.StringValue
			case "content":
				h.Content = sv.StringValue
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Close tears down the underlying gRPC connection.
func (m *Mirror) Close() error {
	return m.conn.Close()
}
