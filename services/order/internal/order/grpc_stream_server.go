package order

import (
	"sync"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/appetiteclub/delivery/pkg/actor"
	"github.com/appetiteclub/delivery/pkg/channel"
	"github.com/appetiteclub/delivery/pkg/event"
)

const defaultSubscriberBuffer = 100

// OrderEventStreamServer is the per-actor push channel. Each subscriber only
// receives envelopes for orders it participates in.
type OrderEventStreamServer struct {
	logger    aqm.Logger
	jwtSecret string
	buffer    int

	mu          sync.RWMutex
	subscribers map[string]*streamSubscriber
}

type streamSubscriber struct {
	id       string
	actor    actor.Actor
	events   chan *event.Envelope
	overflow chan struct{}
	once     sync.Once
}

// markOverflow disconnects a subscriber that fell behind. Dropping a single
// envelope silently would leave its store wrong until the next reconnect,
// so the whole stream is closed and the client reconciles.
func (s *streamSubscriber) markOverflow() {
	s.once.Do(func() { close(s.overflow) })
}

// RegisterGRPCService registers this service with the gRPC server (aqm.GRPCServiceRegistrar interface)
func (s *OrderEventStreamServer) RegisterGRPCService(server *grpc.Server) {
	channel.Register(server, s)
}

func NewOrderEventStreamServer(jwtSecret string, buffer int, logger aqm.Logger) *OrderEventStreamServer {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &OrderEventStreamServer{
		logger:      logger.With("component", "order-stream"),
		jwtSecret:   jwtSecret,
		buffer:      buffer,
		subscribers: make(map[string]*streamSubscriber),
	}
}

// Subscribe implements channel.OrderEventsServer.
func (s *OrderEventStreamServer) Subscribe(req *channel.SubscribeRequest, stream channel.EventSender) error {
	ctx := stream.Context()

	token, err := actor.BearerToken(channel.TokenFromContext(ctx))
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}
	a, err := actor.ParseToken(token, s.jwtSecret)
	if err != nil {
		return status.Error(codes.Unauthenticated, err.Error())
	}

	sub := &streamSubscriber{
		id:       uuid.NewString(),
		actor:    a,
		events:   make(chan *event.Envelope, s.buffer),
		overflow: make(chan struct{}),
	}

	s.mu.Lock()
	s.subscribers[sub.id] = sub
	total := len(s.subscribers)
	s.mu.Unlock()

	s.logger.Info("new order events subscriber",
		"subscriber_id", sub.id,
		"client_id", req.ClientID,
		"actor_id", a.ID.String(),
		"role", a.Role,
		"total_subscribers", total,
	)

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, sub.id)
		s.mu.Unlock()
		s.logger.Info("order events subscriber disconnected", "subscriber_id", sub.id)
	}()

	if err := stream.SendHeader(metadata.Pairs(channel.SubscriberKey, sub.id)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.overflow:
			s.logger.Info("subscriber fell behind, closing stream", "subscriber_id", sub.id)
			return status.Error(codes.ResourceExhausted, "subscriber buffer overflow")
		case env := <-sub.events:
			if err := stream.Send(env); err != nil {
				s.logger.Errorf("failed to send event: %v", err)
				return err
			}
		}
	}
}

// Broadcast fans env out to every subscriber allowed to see its order.
func (s *OrderEventStreamServer) Broadcast(env *event.Envelope) {
	if env == nil || env.Order == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	delivered := 0
	for _, sub := range s.subscribers {
		if !Visible(sub.actor, env.Order) {
			continue
		}
		select {
		case sub.events <- env:
			delivered++
		default:
			sub.markOverflow()
		}
	}

	s.logger.Debug("broadcast order event",
		"order_id", env.Order.ID.String(),
		"kind", string(env.Kind),
		"status", env.Order.Status,
		"delivered", delivered,
	)
}

// SubscriberCount reports the number of open subscriptions.
func (s *OrderEventStreamServer) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
