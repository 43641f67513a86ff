package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wenhaiyang6/parenting/internal/models"
)

const (
	conversationsCollection = "conversations"
	mongoAppendAttempts     = 3
)

// MongoStorage implements Storage with one MongoDB document per conversation.
type MongoStorage struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStorage connects to uri and ensures the indexes on database.conversations.
func NewMongoStorage(ctx context.Context, uri, database string) (*MongoStorage, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	s := &MongoStorage{client: client, coll: client.Database(database).Collection(conversationsCollection)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStorage) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// FindByUser returns the user's conversations ordered by updated_at descending.
func (s *MongoStorage) FindByUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	cur, err := s.coll.Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "id", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	convs := []*models.Conversation{}
	if err := cur.All(ctx, &convs); err != nil {
		return nil, err
	}
	for _, c := range convs {
		normalize(c)
	}
	return convs, nil
}

// FindByID returns a conversation by id.
func (s *MongoStorage) FindByID(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.coll.FindOne(ctx, bson.M{"id": id}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	normalize(&c)
	return &c, nil
}

// AppendMessage pushes msg onto the conversation. Existing conversations are updated with an
// optimistic check on updated_at, so a concurrent append forces a re-read instead of
// overwriting; creation relies on the unique id index.
func (s *MongoStorage) AppendMessage(ctx context.Context, id, userID, title string, msg models.Message) (*models.Conversation, error) {
	for attempt := 0; attempt < mongoAppendAttempts; attempt++ {
		existing, err := s.FindByID(ctx, id)
		switch {
		case errors.Is(err, ErrNotFound):
			now := time.Now().UTC().Truncate(time.Millisecond)
			conv := &models.Conversation{
				ID: id, UserID: userID, Title: title,
				Messages:  []models.Message{msg},
				CreatedAt: now, UpdatedAt: now,
			}
			if _, err := s.coll.InsertOne(ctx, conv); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					continue
				}
				return nil, err
			}
			return conv, nil
		case err != nil:
			return nil, err
		case !existing.OwnedBy(userID):
			return nil, ErrNotFound
		}

		next := nextUpdatedAt(existing.UpdatedAt, time.Millisecond)
		var updated models.Conversation
		err = s.coll.FindOneAndUpdate(ctx,
			bson.M{"id": id, "user_id": userID, "updated_at": existing.UpdatedAt},
			bson.M{
				"$push": bson.M{"messages": msg},
				"$set":  bson.M{"updated_at": next},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&updated)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, err
		}
		normalize(&updated)
		return &updated, nil
	}
	return nil, ErrConflict
}

// DeleteByID deletes a conversation owned by userID.
func (s *MongoStorage) DeleteByID(ctx context.Context, id, userID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"id": id, "user_id": userID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// CountConversations returns the total number of conversations.
func (s *MongoStorage) CountConversations(ctx context.Context) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.M{})
}

// CountMessages sums message array sizes across conversations.
func (s *MongoStorage) CountMessages(ctx context.Context) (int64, error) {
	cur, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": nil, "n": bson.M{"$sum": bson.M{"$size": "$messages"}}}}},
	})
	if err != nil {
		return 0, err
	}
	defer cur.Close(ctx)
	var out []struct {
		N int64 `bson:"n"`
	}
	if err := cur.All(ctx, &out); err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, nil
	}
	return out[0].N, nil
}

// Close disconnects the client.
func (s *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// normalize converts decoded times to UTC and replaces nil messages with an empty slice.
func normalize(c *models.Conversation) {
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	if c.Messages == nil {
		c.Messages = []models.Message{}
	}
}
