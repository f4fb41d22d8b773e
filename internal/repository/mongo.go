package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SergeiKhy/click-analytics/internal/config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.uber.org/zap"
)

const (
	defaultMongoDatabase = "analytics"
	mongoConnectTimeout  = 10 * time.Second
)

// MongoDB лениво открывает подключение при первом вызове Database.
// Инициализация выполняется под мьютексом: даже при гонке консьюмера и
// HTTP-запроса подключение и создание индексов происходят один раз.
type MongoDB struct {
	uri    string
	logger *zap.Logger

	mu     sync.Mutex
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoDB(cfg config.MongoConfig, logger *zap.Logger) *MongoDB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoDB{uri: cfg.URI, logger: logger}
}

// Database возвращает хэндл БД. Ошибка первичного подключения возвращается
// вызывающему без повторов; следующий вызов попробует снова.
func (m *MongoDB) Database(ctx context.Context) (*mongo.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return m.db, nil
	}

	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(m.uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(databaseName(m.uri))
	if err := ensureIndexes(ctx, db.Collection(clickEventsCollection)); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	m.logger.Info("Connected to MongoDB", zap.String("database", db.Name()))
	m.client = client
	m.db = db
	return db, nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Disconnect(ctx)
	m.client = nil
	m.db = nil
	return err
}

// ensureIndexes идемпотентна: повторное создание индекса с тем же ключом ничего не меняет
func ensureIndexes(ctx context.Context, coll *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "short_code", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "short_code", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create click_events indexes: %w", err)
	}
	return nil
}

// databaseName берёт БД из пути URI, иначе analytics
func databaseName(uri string) string {
	cs, err := connstring.Parse(uri)
	if err != nil || cs.Database == "" {
		return defaultMongoDatabase
	}
	return cs.Database
}
