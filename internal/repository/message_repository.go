package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jukezispilled/lockd/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepository struct {
	coll *mongo.Collection
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{coll: db.Collection(MessagesCollection)}
}

func (r *MessageRepository) Insert(ctx context.Context, m *domain.Message) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	if m.Reactions == nil {
		m.Reactions = []domain.Reaction{}
	}
	_, err := r.coll.InsertOne(ctx, m)
	return err
}

// List returns a chat's messages oldest first. _id breaks timestamp ties.
func (r *MessageRepository) List(ctx context.Context, chatID primitive.ObjectID, limit, skip int64) ([]domain.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(skip).
		SetLimit(limit)
	cur, err := r.coll.Find(ctx, bson.M{"chatId": chatID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []domain.Message{}
	for cur.Next(ctx) {
		var m domain.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		if m.Reactions == nil {
			m.Reactions = []domain.Reaction{}
		}
		out = append(out, m)
	}
	return out, cur.Err()
}

// ChatStats is what the messages collection says a chat's counters should be.
type ChatStats struct {
	Count        int64
	Senders      []string
	LastActivity time.Time
}

func (r *MessageRepository) Stats(ctx context.Context, chatID primitive.ObjectID) (*ChatStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"chatId": chatID}
	n, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}
	raw, err := r.coll.Distinct(ctx, "senderWallet", filter)
	if err != nil {
		return nil, err
	}
	stats := &ChatStats{Count: n, Senders: make([]string, 0, len(raw))}
	for _, v := range raw {
		if s, ok := v.(string); ok {
			stats.Senders = append(stats.Senders, s)
		}
	}

	var last domain.Message
	err = r.coll.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})).Decode(&last)
	switch {
	case err == nil:
		stats.LastActivity = last.Timestamp
	case !errors.Is(err, mongo.ErrNoDocuments):
		return nil, err
	}
	return stats, nil
}
