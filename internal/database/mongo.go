package database

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// OpenMongo connects to MongoDB, verifies the deployment is reachable and
// returns the named database.
func OpenMongo(ctx context.Context, uri, databaseName string, logger *zap.Logger) (*mongo.Client, *mongo.Database, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, nil, fmt.Errorf("mongo uri is required")
	}
	if strings.TrimSpace(databaseName) == "" {
		return nil, nil, fmt.Errorf("mongo database name is required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", "mongo"), zap.String("database", databaseName))
	}
	return client, client.Database(databaseName), nil
}
