package badger

import (
	"context"
	"testing"

	"github.com/mongolite/mongolite/kv/registry"
	"github.com/stretchr/testify/assert"
)

func TestBadger(t *testing.T) {
	ctx := context.Background()
	db, err := registry.Open("badger", map[string]interface{}{})
	assert.NoError(t, err)
	defer db.Close()

	t.Run("put then get", func(t *testing.T) {
		store := db.Store("user")
		assert.NoError(t, store.Put(ctx, "1", []byte(`{"name":"bob"}`)))
		value, err := store.Get(ctx, "1")
		assert.NoError(t, err)
		assert.Equal(t, `{"name":"bob"}`, string(value))
	})
	t.Run("get absent returns nil", func(t *testing.T) {
		store := db.Store("user")
		value, err := store.Get(ctx, "does-not-exist")
		assert.NoError(t, err)
		assert.Nil(t, value)
	})
	t.Run("stores are isolated", func(t *testing.T) {
		assert.NoError(t, db.Store("a").Put(ctx, "1", []byte("a")))
		assert.NoError(t, db.Store("b").Put(ctx, "1", []byte("b")))
		value, err := db.Store("a").Get(ctx, "1")
		assert.NoError(t, err)
		assert.Equal(t, "a", string(value))
	})
	t.Run("scan visits every id", func(t *testing.T) {
		store := db.Store("scan")
		for _, id := range []string{"1", "2", "3"} {
			assert.NoError(t, store.Put(ctx, id, []byte(id)))
		}
		var seen []string
		assert.NoError(t, store.Scan(ctx, func(id string, value []byte) (bool, error) {
			seen = append(seen, id)
			return true, nil
		}))
		assert.Len(t, seen, 3)
	})
	t.Run("scan early stop", func(t *testing.T) {
		store := db.Store("scan")
		var seen int
		assert.NoError(t, store.Scan(ctx, func(id string, value []byte) (bool, error) {
			seen++
			return false, nil
		}))
		assert.Equal(t, 1, seen)
	})
	t.Run("delete", func(t *testing.T) {
		store := db.Store("user")
		assert.NoError(t, store.Delete(ctx, "1"))
		value, err := store.Get(ctx, "1")
		assert.NoError(t, err)
		assert.Nil(t, value)
	})
	t.Run("clear", func(t *testing.T) {
		store := db.Store("scan")
		assert.NoError(t, store.Clear(ctx))
		var seen int
		assert.NoError(t, store.Scan(ctx, func(id string, value []byte) (bool, error) {
			seen++
			return true, nil
		}))
		assert.Equal(t, 0, seen)
	})
	t.Run("unregistered provider", func(t *testing.T) {
		_, err := registry.Open("bolt", map[string]interface{}{})
		assert.Error(t, err)
	})
}
