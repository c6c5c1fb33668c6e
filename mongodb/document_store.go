package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/socialcore/domain"
)

// DocumentStore implements domain.DocumentStore on MongoDB. Record keys are
// stored as _id; increments and server timestamps on existing records use
// $inc and $currentDate so they never read before writing.
type DocumentStore struct {
	db  *mongo.Database
	now func() time.Time
}

func NewDocumentStore(db *mongo.Database) *DocumentStore {
	return &DocumentStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *DocumentStore) GetRecord(ctx context.Context, collection, key string) (domain.Fields, error) {
	var doc bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Str("key", key).Msg("Error reading record from MongoDB")
		return nil, fmt.Errorf("mongodb: find %s/%s: %w", collection, key, err)
	}
	return fromDocument(doc), nil
}

func (s *DocumentStore) CreateRecord(ctx context.Context, collection, key string, fields domain.Fields) error {
	_, err := s.db.Collection(collection).InsertOne(ctx, s.toDocument(key, fields))
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrRecordExists
	}
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Str("key", key).Msg("Error creating record in MongoDB")
		return fmt.Errorf("mongodb: insert %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *DocumentStore) PutRecord(ctx context.Context, collection, key string, fields domain.Fields) error {
	_, err := s.db.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": key},
		s.toDocument(key, fields),
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Str("key", key).Msg("Error replacing record in MongoDB")
		return fmt.Errorf("mongodb: replace %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *DocumentStore) UpdateRecord(ctx context.Context, collection, key string, fields domain.Fields) error {
	coll := s.db.Collection(collection)
	filter := bson.M{"_id": key}

	update := buildUpdate(fields)
	if len(update) == 0 {
		n, err := coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
		if err != nil {
			return fmt.Errorf("mongodb: count %s/%s: %w", collection, key, err)
		}
		if n == 0 {
			return domain.ErrRecordNotFound
		}
		return nil
	}

	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("collection", collection).Str("key", key).Msg("Error updating record in MongoDB")
		return fmt.Errorf("mongodb: update %s/%s: %w", collection, key, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrRecordNotFound
	}
	return nil
}

// toDocument resolves sentinels for a whole-record write: timestamps take
// the client clock and increments start from zero.
func (s *DocumentStore) toDocument(key string, fields domain.Fields) bson.M {
	doc := make(bson.M, len(fields)+1)
	for k, v := range fields {
		switch val := v.(type) {
		case domain.ServerTimestamp:
			doc[k] = s.now()
		case domain.Increment:
			doc[k] = val.Delta
		default:
			doc[k] = v
		}
	}
	doc["_id"] = key
	return doc
}

// buildUpdate splits fields into $set, $inc and $currentDate operators.
func buildUpdate(fields domain.Fields) bson.M {
	set := bson.M{}
	inc := bson.M{}
	currentDate := bson.M{}
	for k, v := range fields {
		if k == "_id" {
			continue
		}
		switch val := v.(type) {
		case domain.ServerTimestamp:
			currentDate[k] = true
		case domain.Increment:
			inc[k] = val.Delta
		default:
			set[k] = v
		}
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if len(currentDate) > 0 {
		update["$currentDate"] = currentDate
	}
	return update
}

// DecodeFields converts a decoded BSON document into Fields, dropping _id.
func DecodeFields(doc bson.M) domain.Fields {
	return fromDocument(doc)
}

func fromDocument(doc bson.M) domain.Fields {
	out := make(domain.Fields, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		out[k] = normalizeValue(v)
	}
	return out
}

// normalizeValue maps driver decoding types onto the plain values the rest
// of the application expects.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case bson.M:
		return fromDocument(val)
	case bson.D:
		return fromDocument(val.Map())
	case bson.A:
		out := make([]any, len(val))
		for i := range val {
			out[i] = normalizeValue(val[i])
		}
		return out
	default:
		return v
	}
}

var _ domain.DocumentStore = (*DocumentStore)(nil)
