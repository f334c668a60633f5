package mongolite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mongolite/mongolite"
	"github.com/mongolite/mongolite/testutil"
)

func seedSales(ctx context.Context, t *testing.T, db *mongolite.Database) *mongolite.Collection {
	sales := db.Collection("sale")
	_, err := sales.InsertMany(ctx, []any{
		map[string]any{"_id": "s1", "category": "A", "amount": 1, "tags": []any{"x", "y"}},
		map[string]any{"_id": "s2", "category": "A", "amount": 3, "tags": []any{"y"}},
		map[string]any{"_id": "s3", "category": "B", "amount": 2, "tags": []any{}},
	})
	assert.NoError(t, err)
	return sales
}

func aggregate(ctx context.Context, t *testing.T, coll *mongolite.Collection, pipeline []map[string]any) mongolite.Documents {
	cursor, err := coll.Aggregate(ctx, pipeline)
	assert.NoError(t, err)
	docs, err := cursor.ToArray(ctx)
	assert.NoError(t, err)
	return docs
}

func TestAggregate(t *testing.T) {
	assert.NoError(t, testutil.TestDB(func(ctx context.Context, db *mongolite.Database) {
		sales := seedSales(ctx, t, db)
		t.Run("match then group sums per key", func(t *testing.T) {
			docs := aggregate(ctx, t, sales, []map[string]any{
				{"$sort": map[string]any{"_id": 1}},
				{"$group": map[string]any{
					"_id":   "$category",
					"total": map[string]any{"$sum": "$amount"},
					"count": map[string]any{"$sum": 1},
				}},
				{"$sort": map[string]any{"_id": 1}},
			})
			assert.Len(t, docs, 2)
			assert.Equal(t, "A", docs[0].GetString("_id"))
			assert.Equal(t, float64(4), docs[0].GetFloat("total"))
			assert.Equal(t, float64(2), docs[0].GetFloat("count"))
			assert.Equal(t, "B", docs[1].GetString("_id"))
			assert.Equal(t, float64(2), docs[1].GetFloat("total"))
		})
		t.Run("group accumulators", func(t *testing.T) {
			docs := aggregate(ctx, t, sales, []map[string]any{
				{"$sort": map[string]any{"amount": 1}},
				{"$group": map[string]any{
					"_id":   nil,
					"min":   map[string]any{"$min": "$amount"},
					"max":   map[string]any{"$max": "$amount"},
					"avg":   map[string]any{"$avg": "$amount"},
					"first": map[string]any{"$first": "$_id"},
					"last":  map[string]any{"$last": "$_id"},
					"all":   map[string]any{"$push": "$category"},
					"cats":  map[string]any{"$addToSet": "$category"},
				}},
			})
			assert.Len(t, docs, 1)
			assert.Equal(t, float64(1), docs[0].GetFloat("min"))
			assert.Equal(t, float64(3), docs[0].GetFloat("max"))
			assert.Equal(t, float64(2), docs[0].GetFloat("avg"))
			assert.Equal(t, "s1", docs[0].GetString("first"))
			assert.Equal(t, "s2", docs[0].GetString("last"))
			assert.Equal(t, []any{"A", "B", "A"}, docs[0].GetArray("all"))
			assert.ElementsMatch(t, []any{"A", "B"}, docs[0].GetArray("cats"))
		})
		t.Run("project computed fields", func(t *testing.T) {
			docs := aggregate(ctx, t, sales, []map[string]any{
				{"$match": map[string]any{"_id": "s2"}},
				{"$project": map[string]any{
					"doubled": map[string]any{"$multiply": []any{"$amount", 2}},
					"label":   map[string]any{"$concat": []any{"$category", "-", "$_id"}},
				}},
			})
			assert.Len(t, docs, 1)
			assert.Equal(t, float64(6), docs[0].GetFloat("doubled"))
			assert.Equal(t, "A-s2", docs[0].GetString("label"))
			assert.Equal(t, "s2", docs[0].DocID())
			assert.False(t, docs[0].Exists("amount"))
		})
		t.Run("addFields keeps existing fields", func(t *testing.T) {
			docs := aggregate(ctx, t, sales, []map[string]any{
				{"$match": map[string]any{"_id": "s1"}},
				{"$addFields": map[string]any{"flag": true}},
			})
			assert.Len(t, docs, 1)
			assert.True(t, docs[0].GetBool("flag"))
			assert.Equal(t, float64(1), docs[0].GetFloat("amount"))
		})
		t.Run("unwind", func(t *testing.T) {
			docs := aggregate(ctx, t, sales, []map[string]any{
				{"$sort": map[string]any{"_id": 1}},
				{"$unwind": "$tags"},
			})
			assert.Len(t, docs, 3)
			assert.Equal(t, "x", docs[0].GetString("tags"))
			assert.Equal(t, "y", docs[1].GetString("tags"))
			assert.Equal(t, "y", docs[2].GetString("tags"))
		})
		t.Run("unwind preserves empty on request", func(t *testing.T) {
			docs := aggregate(ctx, t, sales, []map[string]any{
				{"$sort": map[string]any{"_id": 1}},
				{"$unwind": map[string]any{"path": "$tags", "preserveNullAndEmptyArrays": true}},
			})
			assert.Len(t, docs, 4)
			assert.Equal(t, "s3", docs[3].DocID())
		})
		t.Run("skip limit count", func(t *testing.T) {
			docs := aggregate(ctx, t, sales, []map[string]any{
				{"$sort": map[string]any{"amount": -1}},
				{"$skip": 1},
				{"$limit": 1},
			})
			assert.Len(t, docs, 1)
			assert.Equal(t, "s3", docs[0].DocID())

			docs = aggregate(ctx, t, sales, []map[string]any{
				{"$match": map[string]any{"category": "A"}},
				{"$count": "n"},
			})
			assert.Len(t, docs, 1)
			assert.Equal(t, float64(2), docs[0].GetFloat("n"))
		})
		t.Run("lookup joins a foreign collection", func(t *testing.T) {
			regions := db.Collection("region")
			_, err := regions.InsertMany(ctx, []any{
				map[string]any{"_id": "r1", "category": "A", "region": "north"},
				map[string]any{"_id": "r2", "category": "B", "region": "south"},
			})
			assert.NoError(t, err)
			docs := aggregate(ctx, t, sales, []map[string]any{
				{"$match": map[string]any{"_id": "s1"}},
				{"$lookup": map[string]any{
					"from":         "region",
					"localField":   "category",
					"foreignField": "category",
					"as":           "regions",
				}},
			})
			assert.Len(t, docs, 1)
			joined := docs[0].GetArray("regions")
			assert.Len(t, joined, 1)
		})
		t.Run("function stage", func(t *testing.T) {
			docs := aggregate(ctx, t, sales, []map[string]any{
				{"$match": map[string]any{"_id": "s2"}},
				{"$function": map[string]any{
					"body": "doc.amount * 10",
					"as":   "scaled",
				}},
			})
			assert.Len(t, docs, 1)
			assert.Equal(t, float64(30), docs[0].GetFloat("scaled"))
		})
		t.Run("function stage drops on null without as", func(t *testing.T) {
			docs := aggregate(ctx, t, sales, []map[string]any{
				{"$function": map[string]any{
					"body": "doc.category === 'A' ? doc : null",
				}},
			})
			assert.Len(t, docs, 2)
		})
		t.Run("unknown stages pass through", func(t *testing.T) {
			docs := aggregate(ctx, t, sales, []map[string]any{
				{"$futureStage": map[string]any{"x": 1}},
			})
			assert.Len(t, docs, 3)
		})
		t.Run("malformed stage fails", func(t *testing.T) {
			cursor, err := sales.Aggregate(ctx, []map[string]any{
				{"$match": map[string]any{}, "$limit": 1},
			})
			assert.NoError(t, err)
			_, err = cursor.ToArray(ctx)
			assert.Error(t, err)
		})
	}))
}
