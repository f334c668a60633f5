package testutil

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/mongolite/mongolite"
	_ "github.com/mongolite/mongolite/kv/badger"
)

// UserSchema is a json schema enforced on the user collection in tests
var UserSchema = map[string]any{
	"type":     "object",
	"required": []any{"name", "contact"},
	"properties": map[string]any{
		"name": map[string]any{"type": "string"},
		"age":  map[string]any{"type": "integer", "minimum": 0},
		"contact": map[string]any{
			"type":     "object",
			"required": []any{"email"},
			"properties": map[string]any{
				"email": map[string]any{"type": "string"},
			},
		},
	},
}

// NewUserDoc returns a randomized user document
func NewUserDoc() *mongolite.Document {
	doc, err := mongolite.NewDocumentFrom(map[string]any{
		"_id":  gofakeit.UUID(),
		"name": gofakeit.Name(),
		"contact": map[string]any{
			"email": gofakeit.Email(),
		},
		"account_id":      gofakeit.IntRange(0, 100),
		"language":        gofakeit.Language(),
		"favorite_number": gofakeit.Second(),
		"age":             gofakeit.IntRange(0, 100),
	})
	if err != nil {
		panic(err)
	}
	return doc
}

// NewTaskDoc returns a randomized task document owned by the given user
func NewTaskDoc(usrID string) *mongolite.Document {
	doc, err := mongolite.NewDocumentFrom(map[string]any{
		"_id":     gofakeit.UUID(),
		"user":    usrID,
		"content": gofakeit.LoremIpsumSentence(5),
	})
	if err != nil {
		panic(err)
	}
	return doc
}

// TestDB opens an in-memory database, runs fn against it and closes it
func TestDB(fn func(ctx context.Context, db *mongolite.Database)) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := mongolite.Open(ctx, mongolite.Config{
		Name:         "testing",
		Provider:     "badger",
		Params:       map[string]any{},
		PollInterval: 5 * time.Millisecond,
		MaxAwaitTime: 250 * time.Millisecond,
	})
	if err != nil {
		return err
	}
	defer db.Close(ctx)
	fn(ctx, db)
	return nil
}
