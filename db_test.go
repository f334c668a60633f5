package mongolite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mongolite/mongolite"
	"github.com/mongolite/mongolite/errors"
	"github.com/mongolite/mongolite/testutil"
)

func seedUsers(ctx context.Context, t *testing.T, db *mongolite.Database) *mongolite.Collection {
	users := db.Collection("user")
	_, err := users.InsertMany(ctx, []any{
		map[string]any{"_id": "u1", "name": "alice", "age": 30, "city": "berlin"},
		map[string]any{"_id": "u2", "name": "bob", "age": 25, "city": "paris"},
		map[string]any{"_id": "u3", "name": "carol", "age": 35, "city": "berlin"},
	})
	assert.NoError(t, err)
	return users
}

func TestInsert(t *testing.T) {
	assert.NoError(t, testutil.TestDB(func(ctx context.Context, db *mongolite.Database) {
		users := db.Collection("user")
		t.Run("insert assigns an id", func(t *testing.T) {
			result, err := users.InsertOne(ctx, map[string]any{"name": "alice"})
			assert.NoError(t, err)
			assert.NotEmpty(t, result.InsertedID)
			found, err := users.FindOne(ctx, map[string]any{"_id": result.InsertedID})
			assert.NoError(t, err)
			assert.Equal(t, "alice", found.GetString("name"))
		})
		t.Run("insert keeps a provided id", func(t *testing.T) {
			result, err := users.InsertOne(ctx, map[string]any{"_id": "fixed", "name": "bob"})
			assert.NoError(t, err)
			assert.Equal(t, "fixed", result.InsertedID)
		})
		t.Run("duplicate id fails", func(t *testing.T) {
			_, err := users.InsertOne(ctx, map[string]any{"_id": "fixed", "name": "again"})
			assert.Error(t, err)
			assert.True(t, errors.Is(err, errors.DuplicateKey))
		})
		t.Run("insert many reports partial progress on failure", func(t *testing.T) {
			result, err := users.InsertMany(ctx, []any{
				map[string]any{"_id": "m1"},
				map[string]any{"_id": "fixed"},
				map[string]any{"_id": "m2"},
			})
			assert.Error(t, err)
			assert.Equal(t, []any{"m1"}, result.InsertedIDs)
			missing, err := users.FindOne(ctx, map[string]any{"_id": "m2"})
			assert.NoError(t, err)
			assert.Nil(t, missing)
		})
	}))
}

func TestFind(t *testing.T) {
	assert.NoError(t, testutil.TestDB(func(ctx context.Context, db *mongolite.Database) {
		users := seedUsers(ctx, t, db)
		t.Run("find one returns nil on no match", func(t *testing.T) {
			found, err := users.FindOne(ctx, map[string]any{"name": "nobody"})
			assert.NoError(t, err)
			assert.Nil(t, found)
		})
		t.Run("find with filter", func(t *testing.T) {
			cursor, err := users.Find(ctx, map[string]any{"city": "berlin"})
			assert.NoError(t, err)
			docs, err := cursor.ToArray(ctx)
			assert.NoError(t, err)
			assert.Len(t, docs, 2)
		})
		t.Run("sort skip limit projection", func(t *testing.T) {
			opts := (&mongolite.FindOptions{}).
				SetSort(map[string]any{"age": -1}).
				SetSkip(1).
				SetLimit(1).
				SetProjection(map[string]any{"name": 1})
			cursor, err := users.Find(ctx, map[string]any{}, opts)
			assert.NoError(t, err)
			docs, err := cursor.ToArray(ctx)
			assert.NoError(t, err)
			assert.Len(t, docs, 1)
			assert.Equal(t, "alice", docs[0].GetString("name"))
			assert.False(t, docs[0].Exists("age"))
		})
		t.Run("count", func(t *testing.T) {
			count, err := users.CountDocuments(ctx, map[string]any{"age": map[string]any{"$gte": 30}})
			assert.NoError(t, err)
			assert.Equal(t, int64(2), count)
			estimated, err := users.EstimatedDocumentCount(ctx)
			assert.NoError(t, err)
			assert.Equal(t, int64(3), estimated)
		})
		t.Run("distinct", func(t *testing.T) {
			cities, err := users.Distinct(ctx, "city", map[string]any{})
			assert.NoError(t, err)
			assert.ElementsMatch(t, []any{"berlin", "paris"}, cities)
		})
	}))
}

func TestUpdate(t *testing.T) {
	assert.NoError(t, testutil.TestDB(func(ctx context.Context, db *mongolite.Database) {
		users := seedUsers(ctx, t, db)
		t.Run("update one", func(t *testing.T) {
			result, err := users.UpdateOne(ctx, map[string]any{"_id": "u1"}, map[string]any{"$set": map[string]any{"city": "munich"}})
			assert.NoError(t, err)
			assert.Equal(t, int64(1), result.MatchedCount)
			assert.Equal(t, int64(1), result.ModifiedCount)
			found, err := users.FindOne(ctx, map[string]any{"_id": "u1"})
			assert.NoError(t, err)
			assert.Equal(t, "munich", found.GetString("city"))
		})
		t.Run("no-op update matches without modifying", func(t *testing.T) {
			result, err := users.UpdateOne(ctx, map[string]any{"_id": "u2"}, map[string]any{"$set": map[string]any{"city": "paris"}})
			assert.NoError(t, err)
			assert.Equal(t, int64(1), result.MatchedCount)
			assert.Equal(t, int64(0), result.ModifiedCount)
		})
		t.Run("update many", func(t *testing.T) {
			result, err := users.UpdateMany(ctx, map[string]any{"age": map[string]any{"$gte": 25}}, map[string]any{"$inc": map[string]any{"age": 1}})
			assert.NoError(t, err)
			assert.Equal(t, int64(3), result.MatchedCount)
			assert.Equal(t, int64(3), result.ModifiedCount)
		})
		t.Run("zero match without upsert", func(t *testing.T) {
			result, err := users.UpdateOne(ctx, map[string]any{"_id": "nope"}, map[string]any{"$set": map[string]any{"a": 1}})
			assert.NoError(t, err)
			assert.Equal(t, int64(0), result.MatchedCount)
			assert.Equal(t, int64(0), result.UpsertedCount)
		})
		t.Run("upsert synthesizes a document", func(t *testing.T) {
			result, err := users.UpdateOne(ctx,
				map[string]any{"name": "dave"},
				map[string]any{"$set": map[string]any{"city": "rome"}},
				(&mongolite.UpdateOptions{}).SetUpsert(true))
			assert.NoError(t, err)
			assert.Equal(t, int64(1), result.UpsertedCount)
			assert.NotEmpty(t, result.UpsertedID)
			found, err := users.FindOne(ctx, map[string]any{"name": "dave"})
			assert.NoError(t, err)
			assert.Equal(t, "rome", found.GetString("city"))
		})
		t.Run("id is immutable", func(t *testing.T) {
			_, err := users.UpdateOne(ctx, map[string]any{"_id": "u1"}, map[string]any{"$set": map[string]any{"_id": "other"}})
			assert.Error(t, err)
			assert.True(t, errors.Is(err, errors.Validation))
		})
	}))
}

func TestReplace(t *testing.T) {
	assert.NoError(t, testutil.TestDB(func(ctx context.Context, db *mongolite.Database) {
		users := seedUsers(ctx, t, db)
		t.Run("replace one", func(t *testing.T) {
			result, err := users.ReplaceOne(ctx, map[string]any{"_id": "u1"}, map[string]any{"name": "alicia"})
			assert.NoError(t, err)
			assert.Equal(t, int64(1), result.MatchedCount)
			assert.Equal(t, int64(1), result.ModifiedCount)
			found, err := users.FindOne(ctx, map[string]any{"_id": "u1"})
			assert.NoError(t, err)
			assert.Equal(t, "alicia", found.GetString("name"))
			assert.False(t, found.Exists("age"))
		})
		t.Run("replacement may not contain operators", func(t *testing.T) {
			_, err := users.ReplaceOne(ctx, map[string]any{"_id": "u2"}, map[string]any{"$set": map[string]any{"a": 1}})
			assert.Error(t, err)
		})
		t.Run("replace upsert takes id from filter", func(t *testing.T) {
			result, err := users.ReplaceOne(ctx,
				map[string]any{"_id": "u9"},
				map[string]any{"name": "zoe"},
				(&mongolite.UpdateOptions{}).SetUpsert(true))
			assert.NoError(t, err)
			assert.Equal(t, int64(1), result.UpsertedCount)
			assert.Equal(t, "u9", result.UpsertedID)
		})
	}))
}

func TestDelete(t *testing.T) {
	assert.NoError(t, testutil.TestDB(func(ctx context.Context, db *mongolite.Database) {
		users := seedUsers(ctx, t, db)
		t.Run("delete one", func(t *testing.T) {
			result, err := users.DeleteOne(ctx, map[string]any{"_id": "u1"})
			assert.NoError(t, err)
			assert.Equal(t, int64(1), result.DeletedCount)
		})
		t.Run("delete many", func(t *testing.T) {
			result, err := users.DeleteMany(ctx, map[string]any{"city": map[string]any{"$exists": true}})
			assert.NoError(t, err)
			assert.Equal(t, int64(2), result.DeletedCount)
			count, err := users.CountDocuments(ctx, map[string]any{})
			assert.NoError(t, err)
			assert.Equal(t, int64(0), count)
		})
		t.Run("delete with no match", func(t *testing.T) {
			result, err := users.DeleteOne(ctx, map[string]any{"_id": "gone"})
			assert.NoError(t, err)
			assert.Equal(t, int64(0), result.DeletedCount)
		})
	}))
}

func TestFindOneAndModify(t *testing.T) {
	assert.NoError(t, testutil.TestDB(func(ctx context.Context, db *mongolite.Database) {
		users := seedUsers(ctx, t, db)
		t.Run("find one and update returns before image by default", func(t *testing.T) {
			doc, err := users.FindOneAndUpdate(ctx, map[string]any{"_id": "u1"}, map[string]any{"$inc": map[string]any{"age": 1}})
			assert.NoError(t, err)
			assert.Equal(t, float64(30), doc.GetFloat("age"))
		})
		t.Run("find one and update returns after image on request", func(t *testing.T) {
			opts := (&mongolite.FindOneAndUpdateOptions{}).SetReturnDocument(mongolite.ReturnAfter)
			doc, err := users.FindOneAndUpdate(ctx, map[string]any{"_id": "u1"}, map[string]any{"$inc": map[string]any{"age": 1}}, opts)
			assert.NoError(t, err)
			assert.Equal(t, float64(32), doc.GetFloat("age"))
		})
		t.Run("sort picks the first candidate", func(t *testing.T) {
			opts := (&mongolite.FindOneAndUpdateOptions{}).SetSort(map[string]any{"age": -1}).SetReturnDocument(mongolite.ReturnAfter)
			doc, err := users.FindOneAndUpdate(ctx, map[string]any{}, map[string]any{"$set": map[string]any{"eldest": true}}, opts)
			assert.NoError(t, err)
			assert.Equal(t, "carol", doc.GetString("name"))
		})
		t.Run("find one and delete returns the before image", func(t *testing.T) {
			doc, err := users.FindOneAndDelete(ctx, map[string]any{"_id": "u2"})
			assert.NoError(t, err)
			assert.Equal(t, "bob", doc.GetString("name"))
			found, err := users.FindOne(ctx, map[string]any{"_id": "u2"})
			assert.NoError(t, err)
			assert.Nil(t, found)
		})
		t.Run("find one and replace", func(t *testing.T) {
			opts := (&mongolite.FindOneAndUpdateOptions{}).SetReturnDocument(mongolite.ReturnAfter)
			doc, err := users.FindOneAndReplace(ctx, map[string]any{"_id": "u3"}, map[string]any{"name": "carla"}, opts)
			assert.NoError(t, err)
			assert.Equal(t, "carla", doc.GetString("name"))
		})
		t.Run("no match returns nil", func(t *testing.T) {
			doc, err := users.FindOneAndUpdate(ctx, map[string]any{"_id": "none"}, map[string]any{"$set": map[string]any{"a": 1}})
			assert.NoError(t, err)
			assert.Nil(t, doc)
		})
	}))
}

func TestSchemaValidation(t *testing.T) {
	assert.NoError(t, testutil.TestDB(func(ctx context.Context, db *mongolite.Database) {
		assert.NoError(t, db.CreateCollection(ctx, mongolite.CollectionConfig{
			Name:   "account",
			Schema: testutil.UserSchema,
		}))
		accounts := db.Collection("account")
		t.Run("valid documents insert", func(t *testing.T) {
			_, err := accounts.InsertOne(ctx, testutil.NewUserDoc())
			assert.NoError(t, err)
		})
		t.Run("invalid documents fail", func(t *testing.T) {
			_, err := accounts.InsertOne(ctx, map[string]any{"name": "no-contact"})
			assert.Error(t, err)
			assert.True(t, errors.Is(err, errors.Validation))
		})
		t.Run("updates are validated", func(t *testing.T) {
			doc := testutil.NewUserDoc()
			_, err := accounts.InsertOne(ctx, doc)
			assert.NoError(t, err)
			_, err = accounts.UpdateOne(ctx, map[string]any{"_id": doc.DocID()}, map[string]any{"$unset": map[string]any{"contact": ""}})
			assert.Error(t, err)
		})
	}))
}

func TestDatabase(t *testing.T) {
	assert.NoError(t, testutil.TestDB(func(ctx context.Context, db *mongolite.Database) {
		t.Run("collections are tracked", func(t *testing.T) {
			seedUsers(ctx, t, db)
			db.Collection("task")
			assert.Contains(t, db.Collections(), "user")
			assert.Contains(t, db.Collections(), "task")
		})
		t.Run("drop removes documents and handle", func(t *testing.T) {
			assert.NoError(t, db.DropCollection(ctx, "user"))
			assert.NotContains(t, db.Collections(), "user")
			count, err := db.Collection("user").CountDocuments(ctx, map[string]any{})
			assert.NoError(t, err)
			assert.Equal(t, int64(0), count)
		})
	}))
}

func TestOpenConfig(t *testing.T) {
	t.Run("config requires a name", func(t *testing.T) {
		_, err := mongolite.Open(context.Background(), mongolite.Config{})
		assert.Error(t, err)
	})
	t.Run("config parses from yaml", func(t *testing.T) {
		cfg, err := mongolite.NewConfigFromBytes([]byte(`
name: testing
provider: badger
collections:
  - name: user
`))
		assert.NoError(t, err)
		assert.Equal(t, "testing", cfg.Name)
		assert.Len(t, cfg.Collections, 1)
	})
	t.Run("unregistered provider fails", func(t *testing.T) {
		_, err := mongolite.Open(context.Background(), mongolite.Config{Name: "x", Provider: "bogus"})
		assert.Error(t, err)
	})
}
