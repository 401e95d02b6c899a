package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig holds MongoDB connection configuration
type MongoConfig struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	Timeout     time.Duration
}

// MongoClient wraps the MongoDB database handle
type MongoClient struct {
	client *mongo.Client
	DB     *mongo.Database
}

// NewMongoDB connects to MongoDB and verifies the connection with a ping
func NewMongoDB(ctx context.Context, cfg *MongoConfig) (*MongoClient, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetServerSelectionTimeout(cfg.Timeout)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoClient{
		client: client,
		DB:     client.Database(cfg.Database),
	}, nil
}

// Close disconnects the underlying client
func (m *MongoClient) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
