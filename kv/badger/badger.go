package badger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/mongolite/mongolite/kv"
	"github.com/mongolite/mongolite/kv/registry"
	"github.com/spf13/cast"
)

func init() {
	registry.Register("badger", func(params map[string]interface{}) (kv.DB, error) {
		return open(cast.ToString(params["storage_path"]))
	})
}

type badgerKV struct {
	db *badger.DB
}

func open(storagePath string) (kv.DB, error) {
	opts := badger.DefaultOptions(storagePath)
	if storagePath == "" {
		opts.InMemory = true
		opts.Dir = ""
		opts.ValueDir = ""
	}
	opts = opts.WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &badgerKV{db: db}, nil
}

func storePrefix(name string) []byte {
	return []byte("store." + name + ".")
}

func (b *badgerKV) Store(name string) kv.Store {
	return &badgerStore{db: b.db, prefix: storePrefix(name)}
}

func (b *badgerKV) DropStore(ctx context.Context, name string) error {
	return b.db.DropPrefix(storePrefix(name))
}

func (b *badgerKV) Close() error {
	return b.db.Close()
}

type badgerStore struct {
	db     *badger.DB
	prefix []byte
}

func (s *badgerStore) key(id string) []byte {
	return append(append([]byte{}, s.prefix...), []byte(id)...)
}

func (s *badgerStore) Get(ctx context.Context, id string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *badgerStore) Put(ctx context.Context, id string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(&badger.Entry{
			Key:   s.key(id),
			Value: value,
		})
	})
}

func (s *badgerStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(s.key(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (s *badgerStore) Scan(ctx context.Context, fn func(id string, value []byte) (bool, error)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.PrefetchSize = 10
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			item := it.Item()
			id := string(item.Key()[len(s.prefix):])
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			next, err := fn(id, value)
			if err != nil {
				return err
			}
			if !next {
				return nil
			}
		}
		return nil
	})
}

func (s *badgerStore) Clear(ctx context.Context) error {
	return s.db.DropPrefix(s.prefix)
}
