// Package qdrant implements storage.VectorStore on a Qdrant collection.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dshills/docsync-mcp/internal/storage"
)

// Payload fields written on every point
const (
	FieldRepositoryID = "repository_id"
	FieldBranch       = "branch"
	FieldPath         = "path"
	FieldChunkIndex   = "chunk_index"
	FieldDocumentID   = "document_id"
	FieldContent      = "content"
)

var reserved = map[string]bool{
	FieldRepositoryID: true,
	FieldBranch:       true,
	FieldPath:         true,
	FieldChunkIndex:   true,
	FieldDocumentID:   true,
	FieldContent:      true,
}

// Store implements storage.VectorStore using Qdrant
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New connects to Qdrant's gRPC endpoint at addr (host:port)
func New(ctx context.Context, addr, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	s := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection)
	s.conn = conn
	return s, nil
}

// NewWithClients wraps existing gRPC clients
func NewWithClients(points pb.PointsClient, collections pb.CollectionsClient, collection string) *Store {
	return &Store{
		points:      points,
		collections: collections,
		collection:  collection,
	}
}

// EnsureCollection creates the collection with cosine distance when missing
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("qdrant: invalid vector dimension %d", dimension)
	}
	resp, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(dimension),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection %s: %w", s.collection, err)
	}
	return nil
}

// Upsert writes records keyed by their UUID point id
func (s *Store) Upsert(ctx context.Context, records []storage.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i := range records {
		if err := records[i].Validate(); err != nil {
			return err
		}
		points[i] = toPoint(&records[i])
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// ReplacePath upserts records then deletes chunk indexes >= len(records)
func (s *Store) ReplacePath(ctx context.Context, key storage.PathKey, records []storage.VectorRecord) error {
	for i := range records {
		if records[i].Key != key {
			return fmt.Errorf("%w: record %s belongs to %s, not %s", storage.ErrInvalidRecord, records[i].ID, records[i].Key, key)
		}
	}
	if err := s.Upsert(ctx, records); err != nil {
		return err
	}
	return s.deleteWhere(ctx, staleChunksFilter(key, len(records)))
}

// DeleteByPath removes every point of one path
func (s *Store) DeleteByPath(ctx context.Context, key storage.PathKey) (int, error) {
	return s.countAndDelete(ctx, pathFilter(key))
}

// DeleteByRepository removes every point of a repository
func (s *Store) DeleteByRepository(ctx context.Context, repositoryID string) (int, error) {
	return s.countAndDelete(ctx, &pb.Filter{Must: []*pb.Condition{keywordCondition(FieldRepositoryID, repositoryID)}})
}

// CountByPath returns the exact number of points of one path
func (s *Store) CountByPath(ctx context.Context, key storage.PathKey) (int, error) {
	return s.count(ctx, pathFilter(key))
}

// Search returns the topK nearest points that match filter
func (s *Store) Search(ctx context.Context, vector []float32, filter storage.SearchFilter, topK int) ([]storage.SearchResult, error) {
	if topK <= 0 {
		return []storage.SearchResult{}, nil
	}
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         searchFilter(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if filter.MinScore != nil {
		threshold := float32(*filter.MinScore)
		req.ScoreThreshold = &threshold
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	results := make([]storage.SearchResult, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		if filter.PathPrefix != "" && !hasPrefix(pt.GetPayload()[FieldPath].GetStringValue(), filter.PathPrefix) {
			continue
		}
		results = append(results, fromPayload(pt.GetId().GetUuid(), float64(pt.GetScore()), pt.GetPayload()))
	}
	return results, nil
}

// Close closes the connection when the store owns it
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Store) count(ctx context.Context, filter *pb.Filter) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (s *Store) countAndDelete(ctx context.Context, filter *pb.Filter) (int, error) {
	n, err := s.count(ctx, filter)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.deleteWhere(ctx, filter); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) deleteWhere(ctx context.Context, filter *pb.Filter) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter}},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

var _ storage.VectorStore = (*Store)(nil)
