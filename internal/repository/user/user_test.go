package user

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"snapsafe/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

const testKey = `{"kty":"RSA","n":"AQAB","e":"AQAB"}`

func TestUserRepo_Upsert(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("insert", func(mt *mtest.T) {
		repo := NewUserRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 0},
			bson.E{Key: "upserted", Value: bson.A{bson.D{{Key: "index", Value: 0}, {Key: "_id", Value: "alice"}}}},
		))

		replaced, err := repo.Upsert(context.Background(), "alice", json.RawMessage(testKey))
		require.NoError(mt, err)
		assert.False(mt, replaced)
	})

	mt.Run("overwrite", func(mt *mtest.T) {
		repo := NewUserRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		replaced, err := repo.Upsert(context.Background(), "alice", json.RawMessage(testKey))
		require.NoError(mt, err)
		assert.True(mt, replaced)
	})

	mt.Run("server error", func(mt *mtest.T) {
		repo := NewUserRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Message: "bad value",
		}))

		_, err := repo.Upsert(context.Background(), "alice", json.RawMessage(testKey))
		assert.Error(mt, err)
	})
}

func TestUserRepo_Lookup(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	updated := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mt.Run("found", func(mt *mtest.T) {
		repo := NewUserRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(1, "mydb.users", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "alice"},
			{Key: "public_key", Value: testKey},
			{Key: "updated_at", Value: updated},
		}))

		entry, err := repo.Lookup(context.Background(), "alice")
		require.NoError(mt, err)
		assert.Equal(mt, "alice", entry.Identity)
		assert.JSONEq(mt, testKey, string(entry.PublicKey))
		assert.True(mt, updated.Equal(entry.UpdatedAt))
	})

	mt.Run("not found", func(mt *mtest.T) {
		repo := NewUserRepo(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "mydb.users", mtest.FirstBatch))

		_, err := repo.Lookup(context.Background(), "nobody")
		assert.ErrorIs(mt, err, repository.ErrNotFound)
	})
}
