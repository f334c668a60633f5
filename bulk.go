package mongolite

import (
	"context"
	"encoding/json"

	"github.com/mongolite/mongolite/errors"
)

// WriteModel is a single operation inside a BulkWrite batch
type WriteModel interface {
	writeModel()
}

// InsertOneModel inserts one document
type InsertOneModel struct {
	Document any
}

func (m *InsertOneModel) writeModel() {}

// UpdateOneModel updates the first document matching the filter
type UpdateOneModel struct {
	Filter map[string]any
	Update map[string]any
	Upsert *bool
}

func (m *UpdateOneModel) writeModel() {}

// UpdateManyModel updates every document matching the filter
type UpdateManyModel struct {
	Filter map[string]any
	Update map[string]any
	Upsert *bool
}

func (m *UpdateManyModel) writeModel() {}

// DeleteOneModel deletes the first document matching the filter
type DeleteOneModel struct {
	Filter map[string]any
}

func (m *DeleteOneModel) writeModel() {}

// DeleteManyModel deletes every document matching the filter
type DeleteManyModel struct {
	Filter map[string]any
}

func (m *DeleteManyModel) writeModel() {}

// ReplaceOneModel replaces the first document matching the filter
type ReplaceOneModel struct {
	Filter      map[string]any
	Replacement any
	Upsert      *bool
}

func (m *ReplaceOneModel) writeModel() {}

// BulkWriteOptions configures a BulkWrite operation
type BulkWriteOptions struct {
	Ordered *bool
}

// SetOrdered sets whether the batch aborts at the first failure
func (o *BulkWriteOptions) SetOrdered(ordered bool) *BulkWriteOptions {
	o.Ordered = &ordered
	return o
}

// BulkWriteErrorEntry is a single failed operation inside a batch
type BulkWriteErrorEntry struct {
	Index int64  `json:"index"`
	Err   error  `json:"err"`
}

// BulkWriteError carries the partial result of a batch alongside the
// per-operation failures. Ordered batches abort at the first failure and
// carry exactly one entry; unordered batches run to completion and carry
// every failure.
type BulkWriteError struct {
	Result      BulkWriteResult       `json:"result"`
	WriteErrors []BulkWriteErrorEntry `json:"writeErrors"`
}

func (e *BulkWriteError) Error() string {
	bits, _ := json.Marshal(map[string]any{
		"result":      e.Result,
		"writeErrors": len(e.WriteErrors),
	})
	return string(bits)
}

// BulkWrite runs the write models in order. Partial progress is always
// reported: the returned result reflects every operation that succeeded
// before any failure.
func (c *Collection) BulkWrite(ctx context.Context, models []WriteModel, opts ...*BulkWriteOptions) (*BulkWriteResult, error) {
	if len(models) == 0 {
		return nil, errors.New(errors.Validation, "no write models provided")
	}
	ordered := true
	for _, opt := range opts {
		if opt != nil && opt.Ordered != nil {
			ordered = *opt.Ordered
		}
	}
	result := &BulkWriteResult{}
	var writeErrors []BulkWriteErrorEntry
	for i, model := range models {
		err := c.applyWriteModel(ctx, model, int64(i), result)
		if err == nil {
			continue
		}
		writeErrors = append(writeErrors, BulkWriteErrorEntry{Index: int64(i), Err: err})
		if ordered {
			break
		}
	}
	if len(writeErrors) > 0 {
		return result, &BulkWriteError{Result: *result, WriteErrors: writeErrors}
	}
	return result, nil
}

func (c *Collection) applyWriteModel(ctx context.Context, model WriteModel, index int64, result *BulkWriteResult) error {
	switch model := model.(type) {
	case *InsertOneModel:
		if _, err := c.InsertOne(ctx, model.Document); err != nil {
			return err
		}
		result.InsertedCount++
	case *UpdateOneModel:
		r, err := c.UpdateOne(ctx, model.Filter, model.Update, &UpdateOptions{Upsert: model.Upsert})
		if err != nil {
			return err
		}
		mergeUpdateResult(result, r, index)
	case *UpdateManyModel:
		r, err := c.UpdateMany(ctx, model.Filter, model.Update, &UpdateOptions{Upsert: model.Upsert})
		if err != nil {
			return err
		}
		mergeUpdateResult(result, r, index)
	case *DeleteOneModel:
		r, err := c.DeleteOne(ctx, model.Filter)
		if err != nil {
			return err
		}
		result.DeletedCount += r.DeletedCount
	case *DeleteManyModel:
		r, err := c.DeleteMany(ctx, model.Filter)
		if err != nil {
			return err
		}
		result.DeletedCount += r.DeletedCount
	case *ReplaceOneModel:
		r, err := c.ReplaceOne(ctx, model.Filter, model.Replacement, &UpdateOptions{Upsert: model.Upsert})
		if err != nil {
			return err
		}
		mergeUpdateResult(result, r, index)
	default:
		return errors.New(errors.Validation, "unsupported write model: %T", model)
	}
	return nil
}

func mergeUpdateResult(result *BulkWriteResult, r *UpdateResult, index int64) {
	result.MatchedCount += r.MatchedCount
	result.ModifiedCount += r.ModifiedCount
	result.UpsertedCount += r.UpsertedCount
	if r.UpsertedID != nil {
		if result.UpsertedIDs == nil {
			result.UpsertedIDs = map[int64]any{}
		}
		result.UpsertedIDs[index] = r.UpsertedID
	}
}
