package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/seed"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/appetiteclub/delivery/pkg/actor"
	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
)

const orderDemoSeedApplication = "delivery_order_demo"

// ApplyDemoSeeds creates demo orders across every status for the demo actors.
func ApplyDemoSeeds(ctx context.Context, orders OrderRepo, db *mongo.Database, logger aqm.Logger) error {
	if db == nil {
		return errors.New("database is required for demo seeding")
	}

	demoSeeds := buildDemoOrderSeeds(orders, logger)
	tracker := seed.NewMongoTracker(db)

	logger.Info("Applying demo order seeds")
	if err := seed.Apply(ctx, tracker, demoSeeds, orderDemoSeedApplication); err != nil {
		return err
	}
	logger.Info("Demo order seeds applied successfully")
	return nil
}

func buildDemoOrderSeeds(orders OrderRepo, logger aqm.Logger) []seed.Seed {
	return []seed.Seed{
		{
			ID:          "2025-03-01_demo_delivery_orders_v1",
			Description: "Create demo orders in every lifecycle status plus unsettled cash deliveries",
			Run: func(ctx context.Context) error {
				return seedDemoOrders(ctx, orders, time.Now().UTC(), logger)
			},
		},
	}
}

type demoOrder struct {
	subtotal string
	fee      string
	payment  string
	age      time.Duration
	steps    []lifecycle.Transition
}

func seedDemoOrders(ctx context.Context, orders OrderRepo, now time.Time, logger aqm.Logger) error {
	for i, d := range demoOrders() {
		o, err := buildDemoOrder(d, now)
		if err != nil {
			return fmt.Errorf("demo order %d: %w", i, err)
		}

		number, err := orders.NextNumber(ctx)
		if err != nil {
			return err
		}
		o.Number = number

		if err := orders.Create(ctx, o); err != nil {
			return fmt.Errorf("demo order %d: %w", i, err)
		}
		logger.Debug("demo order created", "number", o.Number, "status", o.Status)
	}
	return nil
}

// demoOrders covers the pending alert path, an overdue preparation and the
// three cash deliveries of the remittance walkthrough (6000, 4000, 5000).
func demoOrders() []demoOrder {
	st := orderstatus.Statuses
	r, c, cu := actor.DemoRestaurant, actor.DemoCourier, actor.DemoCustomer

	accept := func(min int) lifecycle.Transition {
		return lifecycle.Transition{Target: st.Accepted.Code(), Role: r.Role, ActorID: r.ID, EstimatedMinutes: min}
	}
	by := func(a actor.Actor, target string) lifecycle.Transition {
		return lifecycle.Transition{Target: target, Role: a.Role, ActorID: a.ID}
	}
	delivered := []lifecycle.Transition{
		accept(15), by(r, st.Preparing.Code()), by(r, st.Ready.Code()),
		by(c, st.PickedUp.Code()), by(c, st.Delivering.Code()), by(c, st.Delivered.Code()),
	}

	return []demoOrder{
		{subtotal: "3200", fee: "400", payment: lifecycle.PaymentCash, age: 30 * time.Second},
		{subtotal: "5100", fee: "400", payment: lifecycle.PaymentPrepaid, age: 4 * time.Minute},
		{subtotal: "2800", fee: "300", payment: lifecycle.PaymentCash, age: 10 * time.Minute, steps: []lifecycle.Transition{accept(20)}},
		{subtotal: "7400", fee: "500", payment: lifecycle.PaymentPrepaid, age: 45 * time.Minute, steps: []lifecycle.Transition{accept(25), by(r, st.Preparing.Code())}},
		{subtotal: "4100", fee: "400", payment: lifecycle.PaymentCash, age: 30 * time.Minute, steps: []lifecycle.Transition{accept(15), by(r, st.Preparing.Code()), by(r, st.Ready.Code())}},
		{subtotal: "6600", fee: "500", payment: lifecycle.PaymentCash, age: 50 * time.Minute, steps: delivered[:5]},
		{subtotal: "6000", fee: "0", payment: lifecycle.PaymentCash, age: 3 * time.Hour, steps: delivered},
		{subtotal: "4000", fee: "0", payment: lifecycle.PaymentCash, age: 2 * time.Hour, steps: delivered},
		{subtotal: "5000", fee: "0", payment: lifecycle.PaymentCash, age: time.Hour, steps: delivered},
		{subtotal: "3900", fee: "300", payment: lifecycle.PaymentPrepaid, age: 90 * time.Minute, steps: []lifecycle.Transition{
			{Target: st.Refused.Code(), Role: r.Role, ActorID: r.ID, Reason: "Out of ingredients", ReasonType: "stock"},
		}},
		{subtotal: "2500", fee: "300", payment: lifecycle.PaymentCash, age: 80 * time.Minute, steps: []lifecycle.Transition{
			accept(10), {Target: st.Cancelled.Code(), Role: cu.Role, ActorID: cu.ID, Reason: "Ordered by mistake"},
		}},
	}
}

// buildDemoOrder creates the order age before now and replays its steps a
// minute apart through the state machine. A courier is assigned on ready.
func buildDemoOrder(d demoOrder, now time.Time) (*lifecycle.Order, error) {
	created := now.Add(-d.age)
	o := lifecycle.NewOrder(actor.DemoRestaurant.ID, actor.DemoCustomer.ID,
		decimal.RequireFromString(d.subtotal), decimal.RequireFromString(d.fee),
		DefaultCommissionRate, d.payment, created)

	at := created
	for _, step := range d.steps {
		at = at.Add(time.Minute)
		if step.Target == orderstatus.Statuses.PickedUp.Code() && o.CourierID == nil {
			next, _, err := lifecycle.AssignCourier(o, actor.DemoCourier.ID, actor.DemoCourier.Role, actor.DemoCourier.ID, at)
			if err != nil {
				return nil, err
			}
			o = next
		}
		step.At = at
		next, _, err := lifecycle.Apply(o, step)
		if err != nil {
			return nil, err
		}
		o = next
	}
	return o, nil
}

// DemoSeedingFunc returns an aqm lifecycle OnStart-compatible function for demo seeding.
func DemoSeedingFunc(seedCtx context.Context, orders OrderRepo, db *mongo.Database, logger aqm.Logger) func(ctx context.Context) error {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}

	return func(ctx context.Context) error {
		logger.Info("Starting demo order seeding in background")
		go func() {
			if err := ApplyDemoSeeds(seedCtx, orders, db, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("Demo order seeds failed: %v", err)
			} else if err == nil {
				logger.Info("Demo order seeding completed")
			}
		}()
		return nil
	}
}
