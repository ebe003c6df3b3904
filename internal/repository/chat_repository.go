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

type ChatRepository struct {
	coll *mongo.Collection
}

func NewChatRepository(db *mongo.Database) *ChatRepository {
	return &ChatRepository{coll: db.Collection(ChatsCollection)}
}

// FindOrCreate inserts c unless a chat for c.TokenMint already exists, in which
// case the stored chat is returned untouched. The boolean reports an insert.
func (r *ChatRepository) FindOrCreate(ctx context.Context, c *domain.Chat) (*domain.Chat, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.Members == nil {
		c.Members = []string{}
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.Before)
	var existing domain.Chat
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"tokenMint": c.TokenMint},
		bson.M{"$setOnInsert": c},
		opts,
	).Decode(&existing)
	switch {
	case err == nil:
		return &existing, false, nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return c, true, nil
	case mongo.IsDuplicateKeyError(err):
		// lost the upsert race against another creator; their chat wins
		if err := r.coll.FindOne(ctx, bson.M{"tokenMint": c.TokenMint}).Decode(&existing); err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}
	return nil, false, err
}

func (r *ChatRepository) List(ctx context.Context) ([]domain.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cur, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []domain.Chat{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Members == nil {
			out[i].Members = []string{}
		}
	}
	return out, nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var c domain.Chat
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if c.Members == nil {
		c.Members = []string{}
	}
	return &c, nil
}

// RecordMessage applies the counter side of a send in one atomic update.
// lastActivity only moves forward, so concurrent sends may land in any order.
func (r *ChatRepository) RecordMessage(ctx context.Context, id primitive.ObjectID, sender string, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc":      bson.M{"messageCount": 1},
		"$max":      bson.M{"lastActivity": at},
		"$addToSet": bson.M{"members": sender},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Reconcile rewrites the counters from the messages that actually exist.
func (r *ChatRepository) Reconcile(ctx context.Context, id primitive.ObjectID, count int64, members []string, lastActivity time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	set := bson.M{"messageCount": count}
	if !lastActivity.IsZero() {
		set["lastActivity"] = lastActivity
	}
	update := bson.M{"$set": set}
	if len(members) > 0 {
		update["$addToSet"] = bson.M{"members": bson.M{"$each": members}}
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}
