package repository

import (
	"context"
	"fmt"

	"github.com/SergeiKhy/click-analytics/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoClickRepository struct {
	db *MongoDB
}

func NewMongoClickRepository(db *MongoDB) ClickRepository {
	return &mongoClickRepository{db: db}
}

func (r *mongoClickRepository) collection(ctx context.Context) (*mongo.Collection, error) {
	db, err := r.db.Database(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(clickEventsCollection), nil
}

func (r *mongoClickRepository) Insert(ctx context.Context, event *models.ClickEvent) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}

	if _, err := coll.InsertOne(ctx, event); err != nil {
		return fmt.Errorf("failed to insert click event: %w", err)
	}
	return nil
}

func (r *mongoClickRepository) CountByShortCode(ctx context.Context, shortCode string) (int64, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}

	total, err := coll.CountDocuments(ctx, bson.D{{Key: "short_code", Value: shortCode}})
	if err != nil {
		return 0, fmt.Errorf("failed to count clicks: %w", err)
	}
	return total, nil
}

func (r *mongoClickRepository) CountByCountry(ctx context.Context, shortCode string) (models.OrderedCounts, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "short_code", Value: shortCode}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$country"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	return r.buckets(ctx, pipeline, "clicks by country")
}

func (r *mongoClickRepository) CountByDate(ctx context.Context, shortCode string) (models.OrderedCounts, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "short_code", Value: shortCode}}}},
		{{Key: "$group", Value: bson.D{
			// YYYY-MM-DD
			{Key: "_id", Value: bson.D{{Key: "$substr", Value: bson.A{"$timestamp", 0, 10}}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
	return r.buckets(ctx, pipeline, "clicks by date")
}

func (r *mongoClickRepository) buckets(ctx context.Context, pipeline mongo.Pipeline, what string) (models.OrderedCounts, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s: %w", what, err)
	}

	var buckets models.OrderedCounts
	if err := cursor.All(ctx, &buckets); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return buckets, nil
}

func (r *mongoClickRepository) Recent(ctx context.Context, shortCode string, limit int64) ([]models.RecentClick, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetProjection(bson.D{{Key: "_id", Value: 0}, {Key: "short_code", Value: 0}}).
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)

	cursor, err := coll.Find(ctx, bson.D{{Key: "short_code", Value: shortCode}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find recent clicks: %w", err)
	}

	recent := []models.RecentClick{}
	if err := cursor.All(ctx, &recent); err != nil {
		return nil, fmt.Errorf("failed to decode recent clicks: %w", err)
	}
	return recent, nil
}

// CountShortCodes считает группы той же $group, что и TopShortCodes, чтобы total совпадал с ранжированием
func (r *mongoClickRepository) CountShortCodes(ctx context.Context) (int64, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return 0, err
	}

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$short_code"}}}},
		{{Key: "$count", Value: "total"}},
	}
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to count short codes: %w", err)
	}

	var rows []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("failed to decode short code count: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

func (r *mongoClickRepository) TopShortCodes(ctx context.Context, skip, limit int64) ([]models.CodeClicks, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$short_code"},
			{Key: "totalClicks", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		// short_code по возрастанию как вторичный ключ: порядок стабилен между страницами
		{{Key: "$sort", Value: bson.D{{Key: "totalClicks", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$skip", Value: skip}},
		{{Key: "$limit", Value: limit}},
	}

	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate trending: %w", err)
	}

	rows := []models.CodeClicks{}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode trending: %w", err)
	}
	return rows, nil
}
