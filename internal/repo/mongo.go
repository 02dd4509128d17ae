package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitchsafe/companion/internal/domain"
)

// parentField links a subcollection document to its parent.
const parentField = "_parent"

// mongoStore is the MongoDB implementation of DocumentStore.
// Document fields are stored at the top level so UpdateFields maps onto $set.
type mongoStore struct {
	db *mongo.Database
}

// NewMongoStore constructs a DocumentStore backed by the given database.
func NewMongoStore(db *mongo.Database) DocumentStore {
	return &mongoStore{db: db}
}

func (s *mongoStore) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("repo.mongoStore.Get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("repo.mongoStore.Get: %w: %w", domain.ErrPersistence, err)
	}
	return fromBSON(raw), nil
}

func (s *mongoStore) Set(ctx context.Context, collection, id string, doc Document) error {
	body := toBSON(doc)
	body["_id"] = id
	_, err := s.db.Collection(collection).ReplaceOne(ctx, bson.M{"_id": id}, body, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("repo.mongoStore.Set: %w: %w", domain.ErrPersistence, err)
	}
	return nil
}

func (s *mongoStore) UpdateFields(ctx context.Context, collection, id string, fields Document) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": toBSON(fields)})
	if err != nil {
		return fmt.Errorf("repo.mongoStore.UpdateFields: %w: %w", domain.ErrPersistence, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("repo.mongoStore.UpdateFields: %w", domain.ErrNotFound)
	}
	return nil
}

func (s *mongoStore) UpdateFieldsUnless(ctx context.Context, collection, id, field, value string, fields Document) (bool, error) {
	coll := s.db.Collection(collection)
	filter := bson.M{"_id": id, field: bson.M{"$ne": value}}
	res, err := coll.UpdateOne(ctx, filter, bson.M{"$set": toBSON(fields)})
	if err != nil {
		return false, fmt.Errorf("repo.mongoStore.UpdateFieldsUnless: %w: %w", domain.ErrPersistence, err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	n, err := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("repo.mongoStore.UpdateFieldsUnless: %w: %w", domain.ErrPersistence, err)
	}
	if n == 0 {
		return false, fmt.Errorf("repo.mongoStore.UpdateFieldsUnless: %w", domain.ErrNotFound)
	}
	return false, nil
}

// AddToSubcollection uses time-ordered v7 ids so sorting on _id yields
// insertion order.
func (s *mongoStore) AddToSubcollection(ctx context.Context, collection, parentID, sub string, doc Document) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	body := toBSON(doc)
	body["_id"] = id
	body[parentField] = parentID

	if _, err := s.db.Collection(subcollectionKey(collection, sub)).InsertOne(ctx, body); err != nil {
		return "", fmt.Errorf("repo.mongoStore.AddToSubcollection: %w: %w", domain.ErrPersistence, err)
	}
	return id, nil
}

func (s *mongoStore) ListSubcollection(ctx context.Context, collection, parentID, sub string) ([]Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.db.Collection(subcollectionKey(collection, sub)).Find(ctx, bson.M{parentField: parentID}, opts)
	if err != nil {
		return nil, fmt.Errorf("repo.mongoStore.ListSubcollection: %w: %w", domain.ErrPersistence, err)
	}
	defer cur.Close(ctx)

	var docs []Document
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("repo.mongoStore.ListSubcollection: decode: %w: %w", domain.ErrPersistence, err)
		}
		docs = append(docs, fromBSON(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("repo.mongoStore.ListSubcollection: cursor: %w: %w", domain.ErrPersistence, err)
	}
	return docs, nil
}

func toBSON(doc Document) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// fromBSON turns a decoded Mongo document back into a plain Document:
// _id becomes "id", the parent link is dropped, and nested BSON containers
// become maps and slices.
func fromBSON(raw bson.M) Document {
	doc := make(Document, len(raw))
	for k, v := range raw {
		switch k {
		case "_id":
			doc["id"] = v
		case parentField:
		default:
			doc[k] = normalizeBSON(v)
		}
	}
	return doc
}

func normalizeBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = normalizeBSON(e)
		}
		return m
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalizeBSON(e.Value)
		}
		return m
	case bson.A:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalizeBSON(e)
		}
		return s
	}
	return v
}
