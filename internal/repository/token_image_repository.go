package repository

import (
	"context"
	"time"

	"github.com/jukezispilled/lockd/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TokenImageRepository is the durable layer of the image cache. Expiry is
// left to the TTL index on createdAt.
type TokenImageRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewTokenImageRepository(db *mongo.Database) *TokenImageRepository {
	return &TokenImageRepository{coll: db.Collection(TokenImagesCollection), now: time.Now}
}

// GetMany returns the cached entries among mints. Absent mints are absent
// from the map; a present key with a nil value is a cached "no image".
func (r *TokenImageRepository) GetMany(ctx context.Context, mints []string) (map[string]*string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	cur, err := r.coll.Find(ctx, bson.M{"mintAddress": bson.M{"$in": mints}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []domain.TokenImage
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make(map[string]*string, len(docs))
	for _, d := range docs {
		out[d.MintAddress] = d.ImageURL
	}
	return out, nil
}

// SetMany writes every entry and restarts its TTL. Last write wins per mint.
func (r *TokenImageRepository) SetMany(ctx context.Context, images map[string]*string) error {
	if len(images) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := r.now().UTC()
	models := make([]mongo.WriteModel, 0, len(images))
	for mint, url := range images {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"mintAddress": mint}).
			SetUpdate(bson.M{"$set": domain.TokenImage{MintAddress: mint, ImageURL: url, CreatedAt: now}}).
			SetUpsert(true))
	}
	_, err := r.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	return err
}
