package commands

import (
	"context"
	"fmt"

	"github.com/aquamarinepk/aqm"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/appetiteclub/delivery/pkg/actor"
)

const (
	defaultMongoURL  = "mongodb://localhost:27017/?replicaSet=rs0"
	defaultMongoName = "delivery_order"

	// demoSeedID matches the seed the order service applies with db.seed.demo.
	demoSeedID = "2025-03-01_demo_delivery_orders_v1"
)

// ClearDemo removes the demo orders, their remittances and the seed marker
// so the order service seeds them again on its next start.
func ClearDemo(ctx context.Context, config *aqm.Config, logger aqm.Logger) error {
	logger.Info("Starting demo data cleanup...")

	client, db, err := connectMongo(ctx, config)
	if err != nil {
		return err
	}
	defer client.Disconnect(ctx)

	logger.Info("Connected to MongoDB", "database", db.Name())

	demoFilter := bson.M{"restaurant_id": actor.DemoRestaurant.ID}
	ordersResult, err := db.Collection("orders").DeleteMany(ctx, demoFilter)
	if err != nil {
		return fmt.Errorf("delete demo orders: %w", err)
	}
	logger.Info("Deleted demo orders", "count", ordersResult.DeletedCount)

	remResult, err := db.Collection("remittances").DeleteMany(ctx, bson.M{"courier_id": actor.DemoCourier.ID})
	if err != nil {
		return fmt.Errorf("delete demo remittances: %w", err)
	}
	logger.Info("Deleted demo remittances", "count", remResult.DeletedCount)

	trackerResult, err := db.Collection("_seeds").DeleteOne(ctx, bson.M{"_id": demoSeedID})
	if err != nil {
		return fmt.Errorf("delete order seed tracker: %w", err)
	}
	logger.Info("Cleared order seed tracker", "deleted", trackerResult.DeletedCount)

	return nil
}

func connectMongo(ctx context.Context, config *aqm.Config) (*mongo.Client, *mongo.Database, error) {
	mongoURL := config.GetStringOrDef("db.mongo.url", defaultMongoURL)
	dbName := config.GetStringOrDef("db.mongo.name", defaultMongoName)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURL))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, client.Database(dbName), nil
}
