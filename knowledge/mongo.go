package knowledge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type mongoDoc struct {
	Key        string         `bson:"_id"`
	MemoryType string         `bson:"memory_type"`
	Content    string         `bson:"content"`
	Value      map[string]any `bson:"value,omitempty"`
	CreatedAt  time.Time      `bson:"created_at"`
	UpdatedAt  time.Time      `bson:"updated_at"`
}

// MongoStore persists entries in a MongoDB collection keyed by _id.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	owned  bool
}

// NewMongoStore connects to uri and uses database.collection.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := NewMongoStoreFromCollection(client.Database(database).Collection(collection))
	s.client = client
	s.owned = true
	return s, nil
}

// NewMongoStoreFromCollection uses an existing collection; Close leaves the client open.
func NewMongoStoreFromCollection(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

func (s *MongoStore) Remember(ctx context.Context, e Entry) error {
	now := time.Now()
	filter := bson.M{"_id": e.Key}
	update := bson.M{
		"$set": bson.M{
			"memory_type": e.MemoryType,
			"content":     e.Content,
			"value":       e.Value,
			"updated_at":  now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	if _, err := s.coll.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return fmt.Errorf("remember %s: %w", e.Key, err)
	}
	return nil
}

// recallFilter matches documents whose content contains any of the terms.
func recallFilter(terms []string) bson.M {
	ors := make(bson.A, 0, len(terms))
	for _, t := range terms {
		ors = append(ors, bson.M{"content": bson.Regex{Pattern: regexp.QuoteMeta(t), Options: "i"}})
	}
	return bson.M{"$or": ors}
}

func (s *MongoStore) Recall(ctx context.Context, query string, limit int) ([]Match, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return []Match{}, nil
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(candidateLimit)
	cur, err := s.coll.Find(ctx, recallFilter(terms), opts)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	var docs []mongoDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("recall decode: %w", err)
	}
	entries := make([]Entry, len(docs))
	for i, d := range docs {
		entries[i] = d.entry()
	}
	return rank(query, entries, limit), nil
}

func (d mongoDoc) entry() Entry {
	return Entry{
		Key:        d.Key,
		MemoryType: d.MemoryType,
		Content:    d.Content,
		Value:      d.Value,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func (s *MongoStore) Get(ctx context.Context, key string) (Entry, error) {
	var d mongoDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return d.entry(), nil
}

func (s *MongoStore) Delete(ctx context.Context, key string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *MongoStore) Count(ctx context.Context) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func (s *MongoStore) Close() error {
	if !s.owned || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
