package usage

import (
	"context"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoDBReader implements Reader for MongoDB.
type MongoDBReader struct {
	collection *mongo.Collection
}

// NewMongoDBReader creates a new MongoDB ledger reader.
func NewMongoDBReader(database *mongo.Database) (*MongoDBReader, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBReader{collection: database.Collection(Collection)}, nil
}

// mongoFilter renders the filter part of q.
func mongoFilter(q Query) bson.D {
	filter := bson.D{}

	from, to := q.bounds()
	timestamp := bson.D{}
	if !from.IsZero() {
		timestamp = append(timestamp, bson.E{Key: "$gte", Value: from})
	}
	if !to.IsZero() {
		timestamp = append(timestamp, bson.E{Key: "$lt", Value: to})
	}
	if len(timestamp) > 0 {
		filter = append(filter, bson.E{Key: "timestamp", Value: timestamp})
	}
	if q.Kind != "" {
		filter = append(filter, bson.E{Key: "kind", Value: q.Kind})
	}
	if q.OutputPrefix != "" {
		filter = append(filter, bson.E{Key: "output_name", Value: bson.Regex{Pattern: "^" + regexp.QuoteMeta(q.OutputPrefix)}})
	}
	return filter
}

func (r *MongoDBReader) Summary(ctx context.Context, q Query) (*Summary, error) {
	pipeline := bson.A{
		bson.D{{Key: "$match", Value: mongoFilter(q)}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "casts", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "prompt_tokens", Value: bson.D{{Key: "$sum", Value: "$prompt_tokens"}}},
			{Key: "completion_tokens", Value: bson.D{{Key: "$sum", Value: "$completion_tokens"}}},
			{Key: "total_tokens", Value: bson.D{{Key: "$sum", Value: "$total_tokens"}}},
			{Key: "cache_hits", Value: bson.D{{Key: "$sum", Value: "$cache_hits"}}},
			{Key: "input_rows", Value: bson.D{{Key: "$sum", Value: "$input_rows"}}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage summary: %w", err)
	}
	defer cursor.Close(ctx)

	summary := &Summary{}
	if cursor.Next(ctx) {
		var row struct {
			Casts            int   `bson:"casts"`
			PromptTokens     int64 `bson:"prompt_tokens"`
			CompletionTokens int64 `bson:"completion_tokens"`
			TotalTokens      int64 `bson:"total_tokens"`
			CacheHits        int64 `bson:"cache_hits"`
			Rows             int64 `bson:"input_rows"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode usage summary: %w", err)
		}
		*summary = Summary(row)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summary cursor: %w", err)
	}
	return summary, nil
}

func mongoDateFormat(interval string) string {
	switch interval {
	case IntervalWeekly:
		return "%G-W%V"
	case IntervalMonthly:
		return "%Y-%m"
	case IntervalYearly:
		return "%Y"
	default:
		return "%Y-%m-%d"
	}
}

func (r *MongoDBReader) Periods(ctx context.Context, q Query) ([]Period, error) {
	if err := ValidateInterval(q.Interval); err != nil {
		return nil, err
	}

	pipeline := bson.A{
		bson.D{{Key: "$match", Value: mongoFilter(q)}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$dateToString", Value: bson.D{
				{Key: "format", Value: mongoDateFormat(q.Interval)},
				{Key: "date", Value: "$timestamp"},
			}}}},
			{Key: "casts", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "prompt_tokens", Value: bson.D{{Key: "$sum", Value: "$prompt_tokens"}}},
			{Key: "completion_tokens", Value: bson.D{{Key: "$sum", Value: "$completion_tokens"}}},
			{Key: "total_tokens", Value: bson.D{{Key: "$sum", Value: "$total_tokens"}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage periods: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]Period, 0)
	for cursor.Next(ctx) {
		var row struct {
			Label            string `bson:"_id"`
			Casts            int    `bson:"casts"`
			PromptTokens     int64  `bson:"prompt_tokens"`
			CompletionTokens int64  `bson:"completion_tokens"`
			TotalTokens      int64  `bson:"total_tokens"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode usage period: %w", err)
		}
		result = append(result, Period(row))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage period cursor: %w", err)
	}
	return result, nil
}

func (r *MongoDBReader) Recent(ctx context.Context, q Query) ([]Entry, error) {
	limit, offset := clampLimitOffset(q.Limit, q.Offset)
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, mongoFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find usage entries: %w", err)
	}
	result := make([]Entry, 0)
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to decode usage entries: %w", err)
	}
	for i := range result {
		result[i].Timestamp = result[i].Timestamp.UTC()
	}
	return result, nil
}
