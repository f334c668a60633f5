package mongolite

import (
	"context"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mongolite/mongolite/errors"
	"github.com/mongolite/mongolite/kv"
)

// Collection is a set of documents keyed by identifier, owning a
// monotonically increasing sequence counter and an append-only change log.
type Collection struct {
	db     *Database
	name   string
	store  kv.Store
	schema *gojsonschema.Schema

	// mu guards seq and log only. The store serializes its own access and
	// no lock is held across a store call.
	mu  sync.RWMutex
	seq uint64
	log []*changeRow
}

// Name returns the name of the collection
func (c *Collection) Name() string {
	return c.name
}

// Database returns the database that owns this collection
func (c *Collection) Database() *Database {
	return c.db
}

func toDocument(document any) (*Document, error) {
	if document == nil {
		return nil, errors.New(errors.Validation, "nil document")
	}
	switch document := document.(type) {
	case *Document:
		return document.Clone(), nil
	case map[string]any:
		return NewDocumentFrom(document)
	default:
		return NewDocumentFrom(document)
	}
}

func (c *Collection) validateSchema(doc *Document) error {
	if c.schema == nil {
		return nil
	}
	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(doc.Bytes()))
	if err != nil {
		return errors.Wrap(err, errors.Validation, "failed to validate document")
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(errors.Validation, "document failed schema validation: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// registerTx snapshots this collection into the context's active
// transaction, at most once per collection per transaction, before the
// first write touches the store.
func (c *Collection) registerTx(ctx context.Context) error {
	session := SessionFromContext(ctx)
	if session == nil {
		return nil
	}
	return session.ensureSnapshot(ctx, c)
}

func (c *Collection) readAll(ctx context.Context) (Documents, error) {
	var documents Documents
	err := c.store.Scan(ctx, func(id string, value []byte) (bool, error) {
		doc, err := NewDocumentFromBytes(value)
		if err != nil {
			return false, err
		}
		documents = append(documents, doc)
		return true, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "failed to scan collection '%s'", c.name)
	}
	return documents, nil
}

// findDocs runs the fixed read path: filter, sort, skip, limit, projection.
func (c *Collection) findDocs(ctx context.Context, filter map[string]any, sort any, skip, limit *int64, projection map[string]any) (Documents, error) {
	documents, err := c.readAll(ctx)
	if err != nil {
		return nil, err
	}
	var matched Documents
	for _, doc := range documents {
		pass, err := matchDocument(doc, filter)
		if err != nil {
			return nil, err
		}
		if pass {
			matched = append(matched, doc)
		}
	}
	sortFields, err := parseSort(sort)
	if err != nil {
		return nil, err
	}
	matched = orderBy(sortFields, matched)
	if skip != nil && *skip > 0 {
		if int(*skip) >= len(matched) {
			matched = Documents{}
		} else {
			matched = matched[*skip:]
		}
	}
	if limit != nil && *limit > 0 && int64(len(matched)) > *limit {
		matched = matched[:*limit]
	}
	if len(projection) > 0 {
		projected := make(Documents, 0, len(matched))
		for _, doc := range matched {
			p, err := applyProjection(doc, projection)
			if err != nil {
				return nil, err
			}
			projected = append(projected, p)
		}
		matched = projected
	}
	return matched, nil
}

// InsertOne inserts a single document, assigning an identifier if absent.
// Inserting an identifier that already exists fails with a duplicate key
// error.
func (c *Collection) InsertOne(ctx context.Context, document any) (*InsertOneResult, error) {
	doc, err := toDocument(document)
	if err != nil {
		return nil, err
	}
	if doc.DocID() == "" {
		if err := doc.Set("_id", NewObjectID().String()); err != nil {
			return nil, err
		}
	}
	if err := c.validateSchema(doc); err != nil {
		return nil, err
	}
	if err := c.registerTx(ctx); err != nil {
		return nil, err
	}
	id := doc.DocID()
	existing, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.Internal, "")
	}
	if existing != nil {
		return nil, errors.New(errors.DuplicateKey, "duplicate key: '%s' in collection '%s'", id, c.name)
	}
	if err := c.store.Put(ctx, id, doc.Bytes()); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "")
	}
	c.emit(ctx, opInsert, id, doc, nil)
	return &InsertOneResult{InsertedID: id}, nil
}

// InsertMany inserts documents one at a time. On failure the documents
// inserted before the failing one remain stored and the partial result is
// returned alongside the error.
func (c *Collection) InsertMany(ctx context.Context, documents []any) (*InsertManyResult, error) {
	if len(documents) == 0 {
		return nil, errors.New(errors.Validation, "no documents to insert")
	}
	result := &InsertManyResult{}
	for _, document := range documents {
		one, err := c.InsertOne(ctx, document)
		if err != nil {
			return result, err
		}
		result.InsertedIDs = append(result.InsertedIDs, one.InsertedID)
	}
	return result, nil
}

// Find returns a lazy cursor over the documents matching the filter
func (c *Collection) Find(ctx context.Context, filter map[string]any, opts ...*FindOptions) (*Cursor, error) {
	options := &FindOptions{}
	for _, opt := range opts {
		if opt != nil {
			options = opt
		}
	}
	return newFindCursor(c, filter, options), nil
}

// FindOne returns the first document matching the filter, or nil when
// nothing matches.
func (c *Collection) FindOne(ctx context.Context, filter map[string]any, opts ...*FindOptions) (*Document, error) {
	options := &FindOptions{}
	for _, opt := range opts {
		if opt != nil {
			options = opt
		}
	}
	one := int64(1)
	matched, err := c.findDocs(ctx, filter, options.Sort, options.Skip, &one, options.Projection)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return matched[0], nil
}

// UpdateOne applies the update specification to the first document matching
// the filter. With upsert enabled a zero-match update synthesizes a new
// document from the filter and update.
func (c *Collection) UpdateOne(ctx context.Context, filter map[string]any, update map[string]any, opts ...*UpdateOptions) (*UpdateResult, error) {
	return c.updateDocs(ctx, filter, update, upsertRequested(opts), true)
}

// UpdateMany applies the update specification to every document matching
// the filter.
func (c *Collection) UpdateMany(ctx context.Context, filter map[string]any, update map[string]any, opts ...*UpdateOptions) (*UpdateResult, error) {
	return c.updateDocs(ctx, filter, update, upsertRequested(opts), false)
}

func upsertRequested(opts []*UpdateOptions) bool {
	for _, opt := range opts {
		if opt != nil && opt.Upsert != nil && *opt.Upsert {
			return true
		}
	}
	return false
}

func (c *Collection) updateDocs(ctx context.Context, filter, update map[string]any, upsert, single bool) (*UpdateResult, error) {
	var limit *int64
	if single {
		one := int64(1)
		limit = &one
	}
	matched, err := c.findDocs(ctx, filter, nil, nil, limit, nil)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		if !upsert {
			return &UpdateResult{}, nil
		}
		doc, err := applyUpdate(nil, update, filter)
		if err != nil {
			return nil, err
		}
		if _, err := c.InsertOne(ctx, doc); err != nil {
			return nil, err
		}
		return &UpdateResult{UpsertedCount: 1, UpsertedID: doc.DocID()}, nil
	}
	result := &UpdateResult{}
	for _, before := range matched {
		after, err := c.writeUpdate(ctx, before, update)
		if err != nil {
			return nil, err
		}
		result.MatchedCount++
		if !deepEqual(before.Value(), after.Value()) {
			result.ModifiedCount++
		}
	}
	return result, nil
}

func (c *Collection) writeUpdate(ctx context.Context, before *Document, update map[string]any) (*Document, error) {
	after, err := applyUpdate(before, update, nil)
	if err != nil {
		return nil, err
	}
	if after.DocID() != before.DocID() {
		return nil, errors.New(errors.Validation, "the '_id' field is immutable")
	}
	if err := c.validateSchema(after); err != nil {
		return nil, err
	}
	if err := c.registerTx(ctx); err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, after.DocID(), after.Bytes()); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "")
	}
	c.emit(ctx, opUpdate, after.DocID(), after, update)
	return after, nil
}

// ReplaceOne replaces the first document matching the filter wholesale. The
// replacement may not contain update operators.
func (c *Collection) ReplaceOne(ctx context.Context, filter map[string]any, replacement any, opts ...*UpdateOptions) (*UpdateResult, error) {
	doc, err := toDocument(replacement)
	if err != nil {
		return nil, err
	}
	for key := range doc.Value() {
		if strings.HasPrefix(key, "$") {
			return nil, errors.New(errors.Validation, "replacement document may not contain update operators")
		}
	}
	one := int64(1)
	matched, err := c.findDocs(ctx, filter, nil, nil, &one, nil)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		if !upsertRequested(opts) {
			return &UpdateResult{}, nil
		}
		if doc.DocID() == "" {
			if id, ok := filter["_id"].(string); ok {
				if err := doc.Set("_id", id); err != nil {
					return nil, err
				}
			}
		}
		result, err := c.InsertOne(ctx, doc)
		if err != nil {
			return nil, err
		}
		return &UpdateResult{UpsertedCount: 1, UpsertedID: result.InsertedID}, nil
	}
	before := matched[0]
	if _, err := c.writeReplace(ctx, before, doc); err != nil {
		return nil, err
	}
	result := &UpdateResult{MatchedCount: 1}
	if !deepEqual(before.Value(), doc.Value()) {
		result.ModifiedCount = 1
	}
	return result, nil
}

func (c *Collection) writeReplace(ctx context.Context, before *Document, replacement *Document) (*Document, error) {
	if replacement.DocID() == "" {
		if err := replacement.Set("_id", before.DocID()); err != nil {
			return nil, err
		}
	}
	if replacement.DocID() != before.DocID() {
		return nil, errors.New(errors.Validation, "the '_id' field is immutable")
	}
	if err := c.validateSchema(replacement); err != nil {
		return nil, err
	}
	if err := c.registerTx(ctx); err != nil {
		return nil, err
	}
	if err := c.store.Put(ctx, replacement.DocID(), replacement.Bytes()); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "")
	}
	c.emit(ctx, opReplace, replacement.DocID(), replacement, nil)
	return replacement, nil
}

// DeleteOne deletes the first document matching the filter
func (c *Collection) DeleteOne(ctx context.Context, filter map[string]any) (*DeleteResult, error) {
	one := int64(1)
	return c.deleteDocs(ctx, filter, &one)
}

// DeleteMany deletes every document matching the filter
func (c *Collection) DeleteMany(ctx context.Context, filter map[string]any) (*DeleteResult, error) {
	return c.deleteDocs(ctx, filter, nil)
}

func (c *Collection) deleteDocs(ctx context.Context, filter map[string]any, limit *int64) (*DeleteResult, error) {
	matched, err := c.findDocs(ctx, filter, nil, nil, limit, nil)
	if err != nil {
		return nil, err
	}
	result := &DeleteResult{}
	for _, doc := range matched {
		if err := c.registerTx(ctx); err != nil {
			return nil, err
		}
		if err := c.store.Delete(ctx, doc.DocID()); err != nil {
			return nil, errors.Wrap(err, errors.Internal, "")
		}
		c.emit(ctx, opDelete, doc.DocID(), nil, nil)
		result.DeletedCount++
	}
	return result, nil
}

// CountDocuments returns the number of documents matching the filter
func (c *Collection) CountDocuments(ctx context.Context, filter map[string]any) (int64, error) {
	matched, err := c.findDocs(ctx, filter, nil, nil, nil, nil)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// EstimatedDocumentCount returns the number of documents in the collection
func (c *Collection) EstimatedDocumentCount(ctx context.Context) (int64, error) {
	var count int64
	err := c.store.Scan(ctx, func(id string, value []byte) (bool, error) {
		count++
		return true, nil
	})
	if err != nil {
		return 0, errors.Wrap(err, errors.Internal, "")
	}
	return count, nil
}

// Distinct returns the distinct values of the field across the documents
// matching the filter. Array values contribute their elements.
func (c *Collection) Distinct(ctx context.Context, field string, filter map[string]any) ([]any, error) {
	matched, err := c.findDocs(ctx, filter, nil, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var values []any
	add := func(v any) {
		for _, existing := range values {
			if deepEqual(existing, v) {
				return
			}
		}
		values = append(values, v)
	}
	for _, doc := range matched {
		v := lookupPath(doc.Value(), field)
		if isUndefined(v) {
			continue
		}
		if elements, ok := asSlice(v); ok {
			for _, element := range elements {
				add(element)
			}
			continue
		}
		add(v)
	}
	return values, nil
}

// FindOneAndUpdate updates the first document matching the filter and
// returns it, honoring the before/after selection. Projection is applied
// last.
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter map[string]any, update map[string]any, opts ...*FindOneAndUpdateOptions) (*Document, error) {
	options := &FindOneAndUpdateOptions{}
	for _, opt := range opts {
		if opt != nil {
			options = opt
		}
	}
	one := int64(1)
	matched, err := c.findDocs(ctx, filter, options.Sort, nil, &one, nil)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		if options.Upsert == nil || !*options.Upsert {
			return nil, nil
		}
		doc, err := applyUpdate(nil, update, filter)
		if err != nil {
			return nil, err
		}
		if _, err := c.InsertOne(ctx, doc); err != nil {
			return nil, err
		}
		if options.ReturnDocument == ReturnAfter {
			return applyProjection(doc, options.Projection)
		}
		return nil, nil
	}
	before := matched[0]
	after, err := c.writeUpdate(ctx, before, update)
	if err != nil {
		return nil, err
	}
	selected := before
	if options.ReturnDocument == ReturnAfter {
		selected = after
	}
	return applyProjection(selected, options.Projection)
}

// FindOneAndDelete deletes the first document matching the filter and
// returns its before image
func (c *Collection) FindOneAndDelete(ctx context.Context, filter map[string]any, opts ...*FindOneAndDeleteOptions) (*Document, error) {
	options := &FindOneAndDeleteOptions{}
	for _, opt := range opts {
		if opt != nil {
			options = opt
		}
	}
	one := int64(1)
	matched, err := c.findDocs(ctx, filter, options.Sort, nil, &one, nil)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}
	doc := matched[0]
	if err := c.registerTx(ctx); err != nil {
		return nil, err
	}
	if err := c.store.Delete(ctx, doc.DocID()); err != nil {
		return nil, errors.Wrap(err, errors.Internal, "")
	}
	c.emit(ctx, opDelete, doc.DocID(), nil, nil)
	return applyProjection(doc, options.Projection)
}

// FindOneAndReplace replaces the first document matching the filter and
// returns it, honoring the before/after selection
func (c *Collection) FindOneAndReplace(ctx context.Context, filter map[string]any, replacement any, opts ...*FindOneAndUpdateOptions) (*Document, error) {
	options := &FindOneAndUpdateOptions{}
	for _, opt := range opts {
		if opt != nil {
			options = opt
		}
	}
	doc, err := toDocument(replacement)
	if err != nil {
		return nil, err
	}
	one := int64(1)
	matched, err := c.findDocs(ctx, filter, options.Sort, nil, &one, nil)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		if options.Upsert == nil || !*options.Upsert {
			return nil, nil
		}
		if _, err := c.InsertOne(ctx, doc); err != nil {
			return nil, err
		}
		if options.ReturnDocument == ReturnAfter {
			return applyProjection(doc, options.Projection)
		}
		return nil, nil
	}
	before := matched[0]
	after, err := c.writeReplace(ctx, before, doc)
	if err != nil {
		return nil, err
	}
	selected := before
	if options.ReturnDocument == ReturnAfter {
		selected = after
	}
	return applyProjection(selected, options.Projection)
}

// Drop removes every document in the collection along with its change log
// and sequence counter
func (c *Collection) Drop(ctx context.Context) error {
	if err := c.registerTx(ctx); err != nil {
		return err
	}
	if err := c.store.Clear(ctx); err != nil {
		return errors.Wrap(err, errors.Internal, "failed to drop collection '%s'", c.name)
	}
	c.mu.Lock()
	c.seq = 0
	c.log = nil
	c.mu.Unlock()
	c.db.dropCollectionHandle(c.name)
	c.db.logger.Info(ctx, "dropped collection", map[string]any{"collection": c.name})
	return nil
}
