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
	"github.com/appetiteclub/delivery/services/order/internal/order"
)

const (
	ordersCollection      = "orders"
	remittancesCollection = "remittances"
	countersCollection    = "counters"
)

type OrderRepo struct {
	collection *mongo.Collection
	counters   *mongo.Collection
}

func NewOrderRepo(db *mongo.Database) *OrderRepo {
	return &OrderRepo{
		collection: db.Collection(ordersCollection),
		counters:   db.Collection(countersCollection),
	}
}

func (r *OrderRepo) Create(ctx context.Context, o *lifecycle.Order) error {
	if o == nil {
		return fmt.Errorf("order is nil")
	}

	if _, err := r.collection.InsertOne(ctx, o); err != nil {
		return fmt.Errorf("cannot create order: %w", err)
	}

	return nil
}

func (r *OrderRepo) Get(ctx context.Context, id uuid.UUID) (*lifecycle.Order, error) {
	var o lifecycle.Order
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&o)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot get order: %w", err)
	}
	return &o, nil
}

func (r *OrderRepo) List(ctx context.Context, f order.OrderFilter) ([]*lifecycle.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return r.find(ctx, orderFilterDoc(f), opts)
}

func (r *OrderRepo) SaveGuarded(ctx context.Context, o *lifecycle.Order, expectedStatus string) (bool, error) {
	if o == nil {
		return false, fmt.Errorf("order is nil")
	}

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": o.ID, "status": expectedStatus}, o)
	if err != nil {
		return false, fmt.Errorf("cannot save order: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (r *OrderRepo) ClaimCourier(ctx context.Context, o *lifecycle.Order) (bool, error) {
	if o == nil || o.CourierID == nil {
		return false, fmt.Errorf("order has no courier to claim")
	}

	filter := bson.M{
		"_id":        o.ID,
		"status":     orderstatus.Statuses.Ready.Code(),
		"courier_id": nil,
	}
	update := bson.M{"$set": bson.M{
		"courier_id": *o.CourierID,
		"updated_at": o.UpdatedAt,
	}}

	res, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("cannot claim order: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (r *OrderRepo) ListUnsettledCash(ctx context.Context, courierID uuid.UUID) ([]*lifecycle.Order, error) {
	filter := bson.M{
		"courier_id":     courierID,
		"status":         orderstatus.Statuses.Delivered.Code(),
		"payment_method": lifecycle.PaymentCash,
		"remittance_id":  nil,
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	return r.find(ctx, filter, opts)
}

func (r *OrderRepo) NextNumber(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "order_number"},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("cannot allocate order number: %w", err)
	}
	return counter.Seq, nil
}

func (r *OrderRepo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*lifecycle.Order, error) {
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list orders: %w", err)
	}
	defer cursor.Close(ctx)

	result := []*lifecycle.Order{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, fmt.Errorf("cannot decode orders: %w", err)
	}

	return result, nil
}

func orderFilterDoc(f order.OrderFilter) bson.M {
	filter := bson.M{}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	if f.RestaurantID != nil {
		filter["restaurant_id"] = *f.RestaurantID
	}
	if f.CourierID != nil {
		filter["courier_id"] = *f.CourierID
	}
	if f.CustomerID != nil {
		filter["customer_id"] = *f.CustomerID
	}
	if f.Since != nil {
		terminal := make([]string, 0, len(orderstatus.Completed))
		for _, s := range orderstatus.Completed {
			terminal = append(terminal, s.Code())
		}
		filter["$or"] = bson.A{
			bson.M{"status": bson.M{"$nin": terminal}},
			bson.M{"updated_at": bson.M{"$gte": *f.Since}},
		}
	}
	return filter
}
