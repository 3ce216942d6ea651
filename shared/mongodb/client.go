// shared/mongodb/client.go
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Client represents a wrapper around *mongo.Client for easier management.
type Client struct {
	log         *zap.Logger
	mongoClient *mongo.Client
	database    string
}

// NewClient establishes a connection to the MongoDB server and pings the primary,
// retrying with exponential backoff for up to 30 seconds.
func NewClient(ctx context.Context, log *zap.Logger, connStr, databaseName string) (*Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connStr))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := client.Ping(pingCtx, readpref.Primary())
		if err != nil {
			log.Warn("MongoDB not ready, retrying", zap.Int("attempt", attempt), zap.Error(err))
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(30*time.Second))
	if err != nil {
		if disconnectErr := client.Disconnect(context.Background()); disconnectErr != nil {
			log.Warn("failed to disconnect MongoDB client after ping failure", zap.Error(disconnectErr))
		}
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Info("connected to MongoDB", zap.String("database", databaseName))
	return &Client{
		log:         log,
		mongoClient: client,
		database:    databaseName,
	}, nil
}

// Collection returns a mongo.Collection for the specified collection name.
func (mc *Client) Collection(collectionName string) *mongo.Collection {
	return mc.mongoClient.Database(mc.database).Collection(collectionName)
}

// Disconnect closes the MongoDB client connection.
func (mc *Client) Disconnect(ctx context.Context) error {
	mc.log.Info("disconnecting from MongoDB")
	return mc.mongoClient.Disconnect(ctx)
}
