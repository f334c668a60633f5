package mongolite

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/autom8ter/machine/v4"
	"github.com/xeipuuv/gojsonschema"

	"github.com/mongolite/mongolite/errors"
	"github.com/mongolite/mongolite/kv"
	"github.com/mongolite/mongolite/kv/registry"
	"github.com/mongolite/mongolite/util"
)

// Database is an embeddable document database with mongo-like query,
// aggregation, change stream and transaction semantics
type Database struct {
	config    Config
	kv        kv.DB
	logger    Logger
	machine   machine.Machine
	events    Stream[*ChangeEvent]
	functions FunctionRunner

	mu          sync.RWMutex
	collections map[string]*Collection
}

// Open opens a database with the given config, creating its declared
// collections
func Open(ctx context.Context, cfg Config) (*Database, error) {
	cfg.SetDefaults()
	if err := util.ValidateStruct(&cfg); err != nil {
		return nil, err
	}
	store, err := registry.Open(cfg.Provider, cfg.Params)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to open kv provider: %s", cfg.Provider)
	}
	logger, err := NewLogger(cfg.LogLevel, map[string]any{"database": cfg.Name})
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to build logger")
	}
	m := machine.New()
	db := &Database{
		config:      cfg,
		kv:          store,
		logger:      logger,
		machine:     m,
		events:      newStream[*ChangeEvent](m),
		functions:   newFunctionRunner(),
		collections: map[string]*Collection{},
	}
	for _, collection := range cfg.Collections {
		if err := db.CreateCollection(ctx, collection); err != nil {
			return nil, err
		}
	}
	db.logger.Info(ctx, "opened database", map[string]any{"provider": cfg.Provider})
	return db, nil
}

// Config returns the database config
func (d *Database) Config() Config {
	return d.config
}

func (d *Database) channel(collection string) string {
	return fmt.Sprintf("%s.%s", d.config.Name, collection)
}

// Collection returns a handle to the named collection, creating it lazily
func (d *Database) Collection(name string) *Collection {
	d.mu.RLock()
	c, ok := d.collections[name]
	d.mu.RUnlock()
	if ok {
		return c
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.collections[name]; ok {
		return c
	}
	c = &Collection{
		db:    d,
		name:  name,
		store: d.kv.Store(name),
	}
	d.collections[name] = c
	return c
}

// CreateCollection creates a collection, compiling and attaching its json
// schema when one is configured
func (d *Database) CreateCollection(ctx context.Context, cfg CollectionConfig) error {
	if err := util.ValidateStruct(&cfg); err != nil {
		return err
	}
	var schema *gojsonschema.Schema
	if len(cfg.Schema) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(cfg.Schema))
		if err != nil {
			return errors.Wrap(err, errors.Validation, "invalid json schema for collection: %s", cfg.Name)
		}
		schema = compiled
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.collections[cfg.Name]; ok {
		c.schema = schema
		return nil
	}
	d.collections[cfg.Name] = &Collection{
		db:     d,
		name:   cfg.Name,
		store:  d.kv.Store(cfg.Name),
		schema: schema,
	}
	return nil
}

// DropCollection removes the collection's documents and releases its handle
func (d *Database) DropCollection(ctx context.Context, name string) error {
	if err := d.Collection(name).Drop(ctx); err != nil {
		return err
	}
	return d.kv.DropStore(ctx, name)
}

func (d *Database) dropCollectionHandle(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.collections, name)
}

// Collections returns the names of the open collections in sorted order
func (d *Database) Collections() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartSession starts a new session for transactional work
func (d *Database) StartSession() *Session {
	return &Session{db: d}
}

// Subscribe streams the collection's change events to fn until fn returns
// false or the context is cancelled
func (d *Database) Subscribe(ctx context.Context, collection string, fn func(event *ChangeEvent) (bool, error)) error {
	return d.events.Pull(ctx, d.channel(collection), fn)
}

// Close drains in-flight subscribers and closes the underlying key value
// store
func (d *Database) Close(ctx context.Context) error {
	if err := d.machine.Wait(); err != nil {
		d.logger.Error(ctx, "error draining subscribers", err, map[string]any{})
	}
	return d.kv.Close()
}
