package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Payload keys stored with every indexed memory point.
const (
	PayloadAgentID    = "agent_id"
	PayloadMemoryID   = "memory_id"
	PayloadMemoryType = "memory_type"
)

// Client wraps gRPC connections to Qdrant's collections and points services.
// All memory types share one collection; points carry the agent id and
// memory type in their payload and queries filter on them.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(host string, port int) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates the named collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
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
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Upsert inserts or updates a single memory point. The point id is the
// memory's own uuid, so re-indexing the same memory replaces its vector.
func (c *Client) Upsert(ctx context.Context, collection, agentID, memoryID, memoryType string, vector []float32) error {
	payload := map[string]*pb.Value{
		PayloadAgentID:    {Kind: &pb.Value_StringValue{StringValue: agentID}},
		PayloadMemoryID:   {Kind: &pb.Value_StringValue{StringValue: memoryID}},
		PayloadMemoryType: {Kind: &pb.Value_StringValue{StringValue: memoryType}},
	}
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: memoryID}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: payload,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert point %s: %w", memoryID, err)
	}
	return nil
}

// SearchResult holds a single vector search hit.
type SearchResult struct {
	MemoryID   string
	MemoryType string
	Score      float32
}

// Search performs a nearest-neighbor search scoped to one agent, optionally
// restricted to a set of memory types.
func (c *Client) Search(ctx context.Context, collection, agentID string, vector []float32, memoryTypes []string, topK uint64) ([]*SearchResult, error) {
	must := []*pb.Condition{matchKeyword(PayloadAgentID, agentID)}
	if len(memoryTypes) > 0 {
		should := make([]*pb.Condition, 0, len(memoryTypes))
		for _, t := range memoryTypes {
			should = append(should, matchKeyword(PayloadMemoryType, t))
		}
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Filter{Filter: &pb.Filter{Should: should}},
		})
	}

	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          topK,
		Filter:         &pb.Filter{Must: must},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	results := make([]*SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, &SearchResult{
			MemoryID:   stringPayload(r.Payload, PayloadMemoryID),
			MemoryType: stringPayload(r.Payload, PayloadMemoryType),
			Score:      r.Score,
		})
	}
	return results, nil
}

// Delete removes points by memory id. Used when memories are forgotten or
// an agent is cleared.
func (c *Client) Delete(ctx context.Context, collection string, memoryIDs []string) error {
	if len(memoryIDs) == 0 {
		return nil
	}
	ids := make([]*pb.PointId, 0, len(memoryIDs))
	for _, id := range memoryIDs {
		ids = append(ids, &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}})
	}
	_, err := c.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete %d points: %w", len(memoryIDs), err)
	}
	return nil
}

// DeleteAgent removes every point belonging to one agent.
func (c *Client) DeleteAgent(ctx context.Context, collection, agentID string) error {
	_, err := c.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{matchKeyword(PayloadAgentID, agentID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete agent %s points: %w", agentID, err)
	}
	return nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func matchKeyword(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func stringPayload(payload map[string]*pb.Value, key string) string {
	if v, ok := payload[key]; ok {
		if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
			return sv.StringValue
		}
	}
	return ""
}
