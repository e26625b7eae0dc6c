package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection is the MongoDB collection holding ledger entries.
const Collection = "cast_usage"

// ErrPartialWrite indicates that a batch write only partially succeeded.
// Use errors.As with *PartialWriteError for details.
var ErrPartialWrite = errors.New("partial write failure")

// PartialWriteError reports how many entries of a batch failed to insert.
type PartialWriteError struct {
	TotalEntries int
	FailedCount  int
	Cause        mongo.BulkWriteException
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial usage insert: %d of %d entries failed: %v",
		e.FailedCount, e.TotalEntries, e.Cause.Error())
}

func (e *PartialWriteError) Unwrap() error {
	return ErrPartialWrite
}

var partialWriteFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "nuacast_usage_partial_write_failures_total",
		Help: "Total number of partial write failures when inserting usage entries to MongoDB",
	},
)

// MongoDBStore implements Store for MongoDB.
// Retention is enforced by a TTL index instead of a cleanup loop.
type MongoDBStore struct {
	collection *mongo.Collection
	log        *slog.Logger
}

// NewMongoDBStore creates the ledger indexes if they don't exist.
func NewMongoDBStore(ctx context.Context, database *mongo.Database, retentionDays int, logger *slog.Logger) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	collection := database.Collection(Collection)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
		{Keys: bson.D{{Key: "output_name", Value: 1}}},
		{Keys: bson.D{{Key: "fingerprint", Value: 1}}},
	}

	// A field cannot carry both a TTL and a plain index.
	timestampIndex := mongo.IndexModel{Keys: bson.D{{Key: "timestamp", Value: -1}}}
	if retentionDays > 0 {
		timestampIndex.Options = options.Index().SetExpireAfterSeconds(int32(int64(retentionDays) * 24 * 60 * 60))
	}
	indexes = append(indexes, timestampIndex)

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		logger.Warn("failed to create some MongoDB indexes for usage", "error", err)
	}

	return &MongoDBStore{collection: collection, log: logger}, nil
}

// WriteBatch inserts entries with an unordered InsertMany.
func (s *MongoDBStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = e
	}

	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}

	if bulkErr, ok := bulkWriteException(err); ok {
		failed := len(bulkErr.WriteErrors)
		s.log.Warn("partial usage insert failure",
			"total", len(entries),
			"failed", failed,
			"succeeded", len(entries)-failed,
		)
		partialWriteFailures.Inc()
		return &PartialWriteError{
			TotalEntries: len(entries),
			FailedCount:  failed,
			Cause:        bulkErr,
		}
	}
	return fmt.Errorf("failed to insert usage entries: %w", err)
}

// bulkWriteException unwraps the driver's bulk write error, which may be
// returned by value or by pointer.
func bulkWriteException(err error) (mongo.BulkWriteException, bool) {
	var byValue mongo.BulkWriteException
	if errors.As(err, &byValue) {
		return byValue, true
	}
	var byPointer *mongo.BulkWriteException
	if errors.As(err, &byPointer) && byPointer != nil {
		return *byPointer, true
	}
	return mongo.BulkWriteException{}, false
}

// Flush is a no-op; writes are synchronous.
func (s *MongoDBStore) Flush(_ context.Context) error {
	return nil
}

// Close is a no-op; the client belongs to the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
