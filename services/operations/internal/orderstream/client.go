package orderstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aquamarinepk/aqm"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/appetiteclub/delivery/pkg/channel"
	"github.com/appetiteclub/delivery/pkg/event"
	"github.com/appetiteclub/delivery/services/operations/internal/session"
)

// Client opens order event subscriptions on the backend gRPC push channel.
// The underlying connection is shared by every subscription.
type Client struct {
	addr     string
	clientID string
	logger   aqm.Logger
	opts     []grpc.DialOption

	mu   sync.Mutex
	conn grpc.ClientConnInterface
	cc   *grpc.ClientConn
}

// NewClient creates a client for addr. clientID is reported to the backend
// for its logs.
func NewClient(addr, clientID string, logger aqm.Logger, opts ...grpc.DialOption) *Client {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Client{
		addr:     addr,
		clientID: clientID,
		logger:   logger.With("component", "orderstream"),
		opts:     opts,
	}
}

// NewClientWithConn wraps an existing connection, mainly for tests.
func NewClientWithConn(conn grpc.ClientConnInterface, clientID string, logger aqm.Logger) *Client {
	c := NewClient("", clientID, logger)
	c.conn = conn
	return c
}

// Start prepares the connection. grpc.NewClient does not dial, so a backend
// that is down only shows up when a subscription is opened.
func (c *Client) Start(ctx context.Context) error {
	_, err := c.connection()
	return err
}

// Stop closes the connection and ends every open subscription.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cc == nil {
		return nil
	}
	c.logger.Info("stopping order stream client")
	err := c.cc.Close()
	c.cc = nil
	c.conn = nil
	return err
}

// Dial opens one subscription authenticated with token.
func (c *Client) Dial(ctx context.Context, token string) (session.Stream, error) {
	conn, err := c.connection()
	if err != nil {
		return nil, err
	}

	c.logger.Debug("subscribing to order events", "addr", c.addr)
	es, err := channel.Subscribe(ctx, conn, token, &channel.SubscribeRequest{ClientID: c.clientID})
	if err != nil {
		return nil, err
	}
	return &stream{events: es}, nil
}

func (c *Client) connection() (grpc.ClientConnInterface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}
	if c.addr == "" {
		return nil, errors.New("order stream address not configured")
	}

	cc, err := grpc.NewClient(c.addr, c.opts...)
	if err != nil {
		return nil, fmt.Errorf("create order stream client: %w", err)
	}
	c.logger.Info("order stream client ready", "addr", c.addr)
	c.cc = cc
	c.conn = cc
	return cc, nil
}

// stream ends when the context passed to Dial is cancelled; Close has
// nothing left to release.
type stream struct {
	events channel.EventStream
}

func (s *stream) Recv() (*event.Envelope, error) {
	return s.events.Recv()
}

func (s *stream) Close() error {
	return nil
}
