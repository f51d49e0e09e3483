package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"sdfmover/engine/internal/logging"
)

const (
	serviceName          = "mover.telemetry.v1.Telemetry"
	streamSnapshotsRoute = "/" + serviceName + "/StreamSnapshots"
)

// TelemetryServer is the server API of the telemetry gRPC service.
type TelemetryServer interface {
	StreamSnapshots(*emptypb.Empty, grpc.ServerStream) error
}

// The service carries well-known types only, so it is described by hand
// instead of from generated stubs.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{{
		StreamName:    "StreamSnapshots",
		Handler:       streamSnapshotsHandler,
		ServerStreams: true,
	}},
	Metadata: "mover/telemetry/v1/telemetry.proto",
}

func streamSnapshotsHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(emptypb.Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamSnapshots(req, stream)
}

// Register attaches the service to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, service *Service) {
	registrar.RegisterService(&serviceDesc, service)
}

// Service streams hub snapshots to gRPC clients as Struct messages.
type Service struct {
	hub *Hub
	log *logging.Logger
}

// NewService wires the service to the hub.
func NewService(hub *Hub, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.L()
	}
	return &Service{hub: hub, log: logger.With(logging.String("component", "telemetry_grpc"))}
}

// StreamSnapshots relays every snapshot published after the call, preceded by the latest one.
func (s *Service) StreamSnapshots(_ *emptypb.Empty, stream grpc.ServerStream) error {
	if s == nil || s.hub == nil {
		return status.Error(codes.FailedPrecondition, "telemetry unavailable")
	}
	ctx := stream.Context()
	snapshots, cancel := s.hub.Subscribe(ctx)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			//1.- Surface cancellation distinctly from deadlines so clients can decide to retry.
			if errors.Is(ctx.Err(), context.Canceled) {
				return status.Error(codes.Canceled, "stream cancelled")
			}
			return status.Error(codes.DeadlineExceeded, "stream deadline exceeded")
		case snapshot, ok := <-snapshots:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(snapshot.Proto()); err != nil {
				s.log.Debug("snapshot send failed", logging.Error(err))
				return err
			}
		}
	}
}

var _ TelemetryServer = (*Service)(nil)

// SnapshotStream is the client side of StreamSnapshots.
type SnapshotStream struct {
	stream grpc.ClientStream
}

// StreamSnapshots opens the snapshot stream over conn.
func StreamSnapshots(ctx context.Context, conn grpc.ClientConnInterface) (*SnapshotStream, error) {
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], streamSnapshotsRoute)
	if err != nil {
		return nil, err
	}
	//1.- io.EOF means the server already finished; RecvMsg surfaces its status.
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &SnapshotStream{stream: stream}, nil
}

// Recv blocks for the next snapshot.
func (s *SnapshotStream) Recv() (Snapshot, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return Snapshot{}, err
	}
	snapshot, err := ParseSnapshot(msg)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse streamed snapshot: %w", err)
	}
	return snapshot, nil
}
