package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"snapsafe/internal/model"
	"snapsafe/internal/repository"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	UserRepo struct {
		collection *mongo.Collection
		now        func() time.Time
	}

	userDocument struct {
		Identity  string    `bson:"_id"`
		PublicKey string    `bson:"public_key"`
		UpdatedAt time.Time `bson:"updated_at"`
	}
)

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		collection: db.Collection("users"),
		now:        time.Now,
	}
}

// Upsert stores publicKey for identity, overwriting any previous key. It
// reports whether an existing entry was replaced.
func (r *UserRepo) Upsert(ctx context.Context, identity string, publicKey json.RawMessage) (bool, error) {
	filter := bson.M{
		"_id": identity,
	}
	update := bson.M{
		"$set": bson.M{
			"public_key": string(publicKey),
			"updated_at": r.now().UTC(),
		},
	}

	res, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return false, fmt.Errorf("upsert user %s: %w", identity, err)
	}

	return res.MatchedCount > 0, nil
}

func (r *UserRepo) Lookup(ctx context.Context, identity string) (*model.DirectoryEntry, error) {
	filter := bson.M{
		"_id": identity,
	}

	var doc userDocument
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", identity, err)
	}

	return &model.DirectoryEntry{
		Identity:  doc.Identity,
		PublicKey: json.RawMessage(doc.PublicKey),
		UpdatedAt: doc.UpdatedAt,
	}, nil
}
