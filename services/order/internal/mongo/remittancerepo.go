package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/pkg/remittance"
	"github.com/appetiteclub/delivery/services/order/internal/order"
)

// RemittanceRepo links orders inside multi-document transactions, which
// requires MongoDB to run as a replica set.
type RemittanceRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	orders     *mongo.Collection
}

func NewRemittanceRepo(db *mongo.Database) *RemittanceRepo {
	return &RemittanceRepo{
		client:     db.Client(),
		collection: db.Collection(remittancesCollection),
		orders:     db.Collection(ordersCollection),
	}
}

func (r *RemittanceRepo) CreateLinked(ctx context.Context, rem *remittance.Remittance) error {
	if rem == nil || len(rem.OrderIDs) == 0 {
		return fmt.Errorf("remittance has no orders")
	}

	return r.inTransaction(ctx, func(sc mongo.SessionContext) error {
		filter := bson.M{
			"_id":            bson.M{"$in": rem.OrderIDs},
			"courier_id":     rem.CourierID,
			"status":         orderstatus.Statuses.Delivered.Code(),
			"payment_method": lifecycle.PaymentCash,
			"remittance_id":  nil,
		}
		res, err := r.orders.UpdateMany(sc, filter, bson.M{"$set": bson.M{"remittance_id": rem.ID}})
		if err != nil {
			return fmt.Errorf("cannot link orders: %w", err)
		}
		if res.ModifiedCount != int64(len(rem.OrderIDs)) {
			return remittance.ErrRaceLost
		}

		if _, err := r.collection.InsertOne(sc, rem); err != nil {
			return fmt.Errorf("cannot create remittance: %w", err)
		}
		return nil
	})
}

func (r *RemittanceRepo) Get(ctx context.Context, id uuid.UUID) (*remittance.Remittance, error) {
	var rem remittance.Remittance
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&rem)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get remittance: %w", err)
	}
	return &rem, nil
}

func (r *RemittanceRepo) List(ctx context.Context, f order.RemittanceFilter) ([]*remittance.Remittance, error) {
	filter := bson.M{}
	if f.CourierID != nil {
		filter["courier_id"] = *f.CourierID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list remittances: %w", err)
	}
	defer cursor.Close(ctx)

	result := []*remittance.Remittance{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode remittances: %w", err)
	}
	return result, nil
}

func (r *RemittanceRepo) Resolve(ctx context.Context, rem *remittance.Remittance) error {
	return r.inTransaction(ctx, func(sc mongo.SessionContext) error {
		res, err := r.collection.ReplaceOne(sc, bson.M{"_id": rem.ID, "status": remittance.StatusPending}, rem)
		if err != nil {
			return fmt.Errorf("cannot resolve remittance: %w", err)
		}
		if res.MatchedCount == 0 {
			return remittance.ErrAlreadyResolved
		}

		if rem.Status == remittance.StatusRejected {
			_, err := r.orders.UpdateMany(sc,
				bson.M{"remittance_id": rem.ID},
				bson.M{"$unset": bson.M{"remittance_id": ""}},
			)
			if err != nil {
				return fmt.Errorf("cannot unlink orders: %w", err)
			}
		}
		return nil
	})
}

func (r *RemittanceRepo) inTransaction(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("cannot start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
