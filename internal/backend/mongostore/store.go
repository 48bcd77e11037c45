// Package mongostore implements backend.DocumentStore over MongoDB, using
// change streams for live subscriptions.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/academe-app/academe/internal/backend"
	"github.com/academe-app/academe/internal/errs"
)

// Store talks to one MongoDB database. Subscriptions re-run their query on
// every change event: full snapshot rebuild, O(result size) per change.
type Store struct {
	db  *mongo.Database
	log *zap.Logger
}

var _ backend.DocumentStore = (*Store)(nil)

// Connect dials MongoDB and pings the primary before returning a Store.
func Connect(ctx context.Context, uri, dbName string, log *zap.Logger) (*Store, func(), error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}
	stop := func() { _ = client.Disconnect(context.Background()) }
	return &Store{db: client.Database(dbName), log: log}, stop, nil
}

// New wraps an already-connected database handle.
func New(db *mongo.Database, log *zap.Logger) *Store {
	return &Store{db: db, log: log}
}

func toDocument(raw bson.M) backend.Document {
	id, _ := raw["_id"].(string)
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		fields[k] = v
	}
	return backend.Document{ID: id, Fields: fields}
}

// Get loads one document.
func (s *Store) Get(ctx context.Context, collection, id string) (backend.Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return backend.Document{}, errs.ErrNotFound
	}
	if err != nil {
		return backend.Document{}, err
	}
	return toDocument(raw), nil
}

// Set writes fields of a document, merging via $set or replacing outright.
func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any, merge bool) error {
	coll := s.db.Collection(collection)
	if merge {
		_, err := coll.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M(fields)},
			options.UpdateOne().SetUpsert(true),
		)
		return err
	}
	doc := bson.M{"_id": id}
	for k, v := range fields {
		doc[k] = v
	}
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

// Delete removes a document; absent documents are ignored.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// AppendToArray appends values to an array field via $push/$each.
func (s *Store) AppendToArray(ctx context.Context, collection, id, field string, values ...any) error {
	res, err := s.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$push": bson.M{field: bson.M{"$each": values}}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func filterOf(q backend.Query) bson.M {
	if q.Field == "" {
		return bson.M{}
	}
	return bson.M{q.Field: q.Equals}
}

// Fetch runs a one-shot query.
func (s *Store) Fetch(ctx context.Context, q backend.Query) ([]backend.Document, error) {
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}})
	}
	cursor, err := s.db.Collection(q.Collection).Find(ctx, filterOf(q), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []backend.Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		out = append(out, toDocument(raw))
	}
	return out, cursor.Err()
}

// WatchDoc subscribes to one document. The callback fires synchronously with
// the current state, then from a background goroutine per change event.
func (s *Store) WatchDoc(ctx context.Context, collection, id string, fn func(backend.Document, bool)) (backend.Unsubscribe, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"documentKey._id": id}}},
	}
	cs, err := s.db.Collection(collection).Watch(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("watch %s/%s: %w", collection, id, err)
	}

	emit := func(ctx context.Context) {
		doc, err := s.Get(ctx, collection, id)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			fn(backend.Document{}, false)
		case err != nil:
			s.log.Warn("document refetch failed",
				zap.String("collection", collection), zap.String("id", id), zap.Error(err))
		default:
			fn(doc, true)
		}
	}
	emit(ctx)

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		defer cs.Close(context.Background())
		for cs.Next(streamCtx) {
			emit(streamCtx)
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			s.log.Warn("change stream ended",
				zap.String("collection", collection), zap.String("id", id), zap.Error(err))
		}
	}()
	return func() { cancel() }, nil
}

// WatchQuery subscribes to a query. Any change in the collection re-runs the
// query and delivers the rebuilt snapshot.
func (s *Store) WatchQuery(ctx context.Context, q backend.Query, fn func([]backend.Document)) (backend.Unsubscribe, error) {
	cs, err := s.db.Collection(q.Collection).Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", q.Collection, err)
	}

	emit := func(ctx context.Context) {
		docs, err := s.Fetch(ctx, q)
		if err != nil {
			s.log.Warn("query refetch failed",
				zap.String("collection", q.Collection), zap.Error(err))
			return
		}
		fn(docs)
	}
	emit(ctx)

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		defer cs.Close(context.Background())
		for cs.Next(streamCtx) {
			emit(streamCtx)
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			s.log.Warn("change stream ended",
				zap.String("collection", q.Collection), zap.Error(err))
		}
	}()
	return func() { cancel() }, nil
}

// bulkModels groups writes into one bulk-write model list per collection.
// Deletes become DeleteOne, everything else an upserting ReplaceOne.
func bulkModels(writes []backend.Write) map[string][]mongo.WriteModel {
	byColl := make(map[string][]mongo.WriteModel)
	for _, w := range writes {
		if w.Delete {
			byColl[w.Collection] = append(byColl[w.Collection],
				mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": w.ID}))
			continue
		}
		doc := bson.M{"_id": w.ID}
		for k, v := range w.Fields {
			doc[k] = v
		}
		byColl[w.Collection] = append(byColl[w.Collection],
			mongo.NewReplaceOneModel().SetFilter(bson.M{"_id": w.ID}).SetReplacement(doc).SetUpsert(true))
	}
	return byColl
}

// BatchWrite applies all writes through one bulk operation per collection.
func (s *Store) BatchWrite(ctx context.Context, writes []backend.Write) error {
	for coll, models := range bulkModels(writes) {
		if _, err := s.db.Collection(coll).BulkWrite(ctx, models); err != nil {
			return fmt.Errorf("bulk write %s: %w", coll, err)
		}
	}
	return nil
}
