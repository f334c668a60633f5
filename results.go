package mongolite

// InsertOneResult is the result of an InsertOne operation
type InsertOneResult struct {
	InsertedID any `json:"insertedId"`
}

// InsertManyResult is the result of an InsertMany operation
type InsertManyResult struct {
	InsertedIDs []any `json:"insertedIds"`
}

// UpdateResult is the result of an UpdateOne/UpdateMany/ReplaceOne operation
type UpdateResult struct {
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
	UpsertedCount int64 `json:"upsertedCount"`
	UpsertedID    any   `json:"upsertedId,omitempty"`
}

// DeleteResult is the result of a DeleteOne/DeleteMany operation
type DeleteResult struct {
	DeletedCount int64 `json:"deletedCount"`
}

// BulkWriteResult is the result of a BulkWrite operation
type BulkWriteResult struct {
	InsertedCount int64           `json:"insertedCount"`
	MatchedCount  int64           `json:"matchedCount"`
	ModifiedCount int64           `json:"modifiedCount"`
	DeletedCount  int64           `json:"deletedCount"`
	UpsertedCount int64           `json:"upsertedCount"`
	UpsertedIDs   map[int64]any   `json:"upsertedIds,omitempty"`
}

// FindOptions configures a Find operation
type FindOptions struct {
	Sort       any
	Projection map[string]any
	Limit      *int64
	Skip       *int64
}

// SetSort sets the sort order
func (o *FindOptions) SetSort(sort any) *FindOptions {
	o.Sort = sort
	return o
}

// SetProjection sets the projection
func (o *FindOptions) SetProjection(projection map[string]any) *FindOptions {
	o.Projection = projection
	return o
}

// SetLimit sets the maximum number of documents to return
func (o *FindOptions) SetLimit(limit int64) *FindOptions {
	o.Limit = &limit
	return o
}

// SetSkip sets the number of documents to skip
func (o *FindOptions) SetSkip(skip int64) *FindOptions {
	o.Skip = &skip
	return o
}

// UpdateOptions configures an Update operation
type UpdateOptions struct {
	Upsert *bool
}

// SetUpsert sets the upsert option
func (o *UpdateOptions) SetUpsert(upsert bool) *UpdateOptions {
	o.Upsert = &upsert
	return o
}

// ReturnDocument selects which version of a document a FindOneAnd* call returns
type ReturnDocument string

const (
	// ReturnBefore returns the document as it was before the mutation
	ReturnBefore ReturnDocument = "before"
	// ReturnAfter returns the document as it is after the mutation
	ReturnAfter ReturnDocument = "after"
)

// FindOneAndUpdateOptions configures a FindOneAndUpdate/Replace operation
type FindOneAndUpdateOptions struct {
	Upsert         *bool
	ReturnDocument ReturnDocument
	Projection     map[string]any
	Sort           any
}

// SetUpsert sets the upsert option
func (o *FindOneAndUpdateOptions) SetUpsert(upsert bool) *FindOneAndUpdateOptions {
	o.Upsert = &upsert
	return o
}

// SetReturnDocument sets which document to return
func (o *FindOneAndUpdateOptions) SetReturnDocument(rd ReturnDocument) *FindOneAndUpdateOptions {
	o.ReturnDocument = rd
	return o
}

// SetProjection sets the projection
func (o *FindOneAndUpdateOptions) SetProjection(projection map[string]any) *FindOneAndUpdateOptions {
	o.Projection = projection
	return o
}

// SetSort sets the sort order
func (o *FindOneAndUpdateOptions) SetSort(sort any) *FindOneAndUpdateOptions {
	o.Sort = sort
	return o
}

// FindOneAndDeleteOptions configures a FindOneAndDelete operation
type FindOneAndDeleteOptions struct {
	Projection map[string]any
	Sort       any
}

// SetProjection sets the projection
func (o *FindOneAndDeleteOptions) SetProjection(projection map[string]any) *FindOneAndDeleteOptions {
	o.Projection = projection
	return o
}

// SetSort sets the sort order
func (o *FindOneAndDeleteOptions) SetSort(sort any) *FindOneAndDeleteOptions {
	o.Sort = sort
	return o
}
