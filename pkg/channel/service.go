package channel

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/appetiteclub/delivery/pkg/event"
)

const (
	ServiceName      = "delivery.OrderEvents"
	SubscribeMethod  = "/delivery.OrderEvents/Subscribe"
	AuthorizationKey = "authorization"
	SubscriberKey    = "subscriber-id"
)

// SubscribeRequest opens one actor subscription. The actor itself is taken
// from the bearer credential in the call metadata.
type SubscribeRequest struct {
	ClientID string `json:"client_id,omitempty"`
}

// OrderEventsServer is implemented by the backend push channel.
type OrderEventsServer interface {
	Subscribe(req *SubscribeRequest, stream EventSender) error
}

// EventSender is the server side of a subscription. SendHeader confirms an
// accepted subscription before the first event.
type EventSender interface {
	Send(env *event.Envelope) error
	SendHeader(md metadata.MD) error
	Context() context.Context
}

// EventStream is the client side of a subscription.
type EventStream interface {
	Recv() (*event.Envelope, error)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderEventsServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "delivery/order_events",
}

// Register binds srv to server.
func Register(server *grpc.Server, srv OrderEventsServer) {
	server.RegisterService(&ServiceDesc, srv)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(OrderEventsServer).Subscribe(req, &serverStream{stream})
}

type serverStream struct {
	grpc.ServerStream
}

func (s *serverStream) Send(env *event.Envelope) error {
	return s.ServerStream.SendMsg(env)
}

type clientStream struct {
	grpc.ClientStream
}

func (c *clientStream) Recv() (*event.Envelope, error) {
	env := new(event.Envelope)
	if err := c.ClientStream.RecvMsg(env); err != nil {
		return nil, err
	}
	return env, nil
}

// Subscribe opens a subscription on conn authenticated with token.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface, token string, req *SubscribeRequest) (EventStream, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, AuthorizationKey, "Bearer "+token)

	stream, err := conn.NewStream(ctx, &ServiceDesc.Streams[0], SubscribeMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, fmt.Errorf("open subscription: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("close send: %w", err)
	}

	// Wait for the server to accept so rejected credentials and unreachable
	// servers fail here instead of on the first Recv.
	md, err := stream.Header()
	if err != nil {
		return nil, fmt.Errorf("subscription rejected: %w", err)
	}
	if md == nil {
		if err := stream.RecvMsg(new(event.Envelope)); err != nil {
			return nil, fmt.Errorf("subscription rejected: %w", err)
		}
		return nil, fmt.Errorf("subscription rejected: stream ended without headers")
	}
	return &clientStream{stream}, nil
}

// TokenFromContext reads the bearer credential from incoming call metadata.
func TokenFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(AuthorizationKey)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
