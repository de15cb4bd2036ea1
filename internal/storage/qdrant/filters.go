package qdrant

import (
	"strings"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/dshills/docsync-mcp/internal/storage"
)

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
		Key:   key,
		Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
	}}}
}

func rangeCondition(key string, gte float64) *pb.Condition {
	return &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
		Key:   key,
		Range: &pb.Range{Gte: &gte},
	}}}
}

// pathFilter matches every chunk of one path
func pathFilter(key storage.PathKey) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{
		keywordCondition(FieldRepositoryID, key.RepositoryID),
		keywordCondition(FieldBranch, key.Branch),
		keywordCondition(FieldPath, key.Path),
	}}
}

// staleChunksFilter matches chunks of a path with index >= keep
func staleChunksFilter(key storage.PathKey, keep int) *pb.Filter {
	f := pathFilter(key)
	f.Must = append(f.Must, rangeCondition(FieldChunkIndex, float64(keep)))
	return f
}

// searchFilter translates the exact-match fields; nil when unrestricted.
// Path prefixes are applied to results since keyword matches are exact.
func searchFilter(filter storage.SearchFilter) *pb.Filter {
	var must []*pb.Condition
	if filter.RepositoryID != "" {
		must = append(must, keywordCondition(FieldRepositoryID, filter.RepositoryID))
	}
	if filter.Branch != "" {
		must = append(must, keywordCondition(FieldBranch, filter.Branch))
	}
	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

func hasPrefix(path, prefix string) bool {
	return strings.HasPrefix(path, prefix)
}

func toPoint(r *storage.VectorRecord) *pb.PointStruct {
	payload := map[string]*pb.Value{
		FieldRepositoryID: stringValue(r.Key.RepositoryID),
		FieldBranch:       stringValue(r.Key.Branch),
		FieldPath:         stringValue(r.Key.Path),
		FieldChunkIndex:   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(r.ChunkIndex)}},
		FieldDocumentID:   stringValue(r.DocumentID),
		FieldContent:      stringValue(r.Content),
	}
	for k, v := range r.Metadata {
		if reserved[k] {
			continue
		}
		payload[k] = stringValue(v)
	}
	return &pb.PointStruct{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}}},
		Payload: payload,
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func fromPayload(id string, score float64, payload map[string]*pb.Value) storage.SearchResult {
	r := storage.SearchResult{
		ID:    id,
		Score: score,
		Key: storage.PathKey{
			RepositoryID: payload[FieldRepositoryID].GetStringValue(),
			Branch:       payload[FieldBranch].GetStringValue(),
			Path:         payload[FieldPath].GetStringValue(),
		},
		ChunkIndex: int(payload[FieldChunkIndex].GetIntegerValue()),
		DocumentID: payload[FieldDocumentID].GetStringValue(),
		Content:    payload[FieldContent].GetStringValue(),
		Metadata:   make(map[string]string),
	}
	for k, v := range payload {
		if reserved[k] {
			continue
		}
		r.Metadata[k] = v.GetStringValue()
	}
	return r
}
