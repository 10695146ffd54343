package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/anungis437/nzila-automation-sub010/internal/evidence"
	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
	"github.com/anungis437/nzila-automation-sub010/internal/identity"
	"github.com/anungis437/nzila-automation-sub010/internal/lifecycle"
)

// Service implements LifecycleServer on top of lifecycle.Service.
type Service struct {
	svc     *lifecycle.Service
	keyring *evidence.Keyring // nil = signatures cannot be confirmed
	logger  *zap.Logger
}

// NewService creates a Service.
func NewService(svc *lifecycle.Service, keyring *evidence.Keyring, logger *zap.Logger) *Service {
	return &Service{svc: svc, keyring: keyring, logger: logger}
}

type artifactRequest struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"sizeBytes"`
	Content   string `json:"content"`
	Optional  bool   `json:"optional"`
}

type attemptRequest struct {
	EntityType string            `json:"entityType"`
	ID         string            `json:"id"`
	Target     string            `json:"target"`
	Payload    map[string]any    `json:"payload"`
	Artifacts  []artifactRequest `json:"artifacts"`
}

type availableRequest struct {
	EntityType string         `json:"entityType"`
	ID         string         `json:"id"`
	Payload    map[string]any `json:"payload"`
}

type verifyRequest struct {
	Pack             *evidence.Pack `json:"pack"`
	Seal             *evidence.Seal `json:"seal"`
	RequireSignature bool           `json:"requireSignature"`
}

func actor(ctx context.Context) (fsm.Context, error) {
	tc, ok := ActorFromContext(ctx)
	if !ok {
		return fsm.Context{}, status.Error(codes.Unauthenticated, "actor is not authenticated")
	}
	return tc, nil
}

// AttemptTransition applies a transition on behalf of the authenticated actor.
func (s *Service) AttemptTransition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req attemptRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if req.EntityType == "" || req.ID == "" || req.Target == "" {
		return nil, status.Error(codes.InvalidArgument, "entityType, id and target are required")
	}
	tc, err := actor(ctx)
	if err != nil {
		return nil, err
	}

	descriptors := make([]evidence.ArtifactDescriptor, 0, len(req.Artifacts))
	for _, a := range req.Artifacts {
		if a.Name == "" || (a.SHA256 == "" && a.Content == "") {
			return nil, status.Error(codes.InvalidArgument, "artifacts need a name and a sha256 or content")
		}
		d := evidence.ArtifactDescriptor{Name: a.Name, Category: a.Category, SHA256: a.SHA256, SizeBytes: a.SizeBytes, Optional: a.Optional}
		if a.SHA256 == "" {
			d.Content = []byte(a.Content)
		}
		descriptors = append(descriptors, d)
	}

	out, err := s.svc.Apply(ctx, lifecycle.ApplyRequest{
		EntityType: req.EntityType,
		ID:         req.ID,
		Target:     fsm.State(req.Target),
		Context:    tc,
		Payload:    fsm.Payload(req.Payload),
		Artifacts:  descriptors,
	})
	if err != nil {
		return nil, s.toStatus(err)
	}
	return toStruct(out)
}

// AvailableTransitions lists the transitions the authenticated actor could take.
func (s *Service) AvailableTransitions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req availableRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if req.EntityType == "" || req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "entityType and id are required")
	}
	tc, err := actor(ctx)
	if err != nil {
		return nil, err
	}

	r, results, err := s.svc.Available(ctx, req.EntityType, req.ID, tc, fsm.Payload(req.Payload))
	if err != nil {
		return nil, s.toStatus(err)
	}
	if results == nil {
		results = []fsm.Result{}
	}
	return toStruct(map[string]any{
		"state":       r.State,
		"version":     r.Version,
		"transitions": results,
	})
}

// VerifySeal verifies a pack against its seal.
func (s *Service) VerifySeal(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req verifyRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if req.Pack == nil || req.Seal == nil {
		return nil, status.Error(codes.InvalidArgument, "pack and seal are required")
	}
	opts, err := s.keyring.VerifyOptionsFor(*req.Seal)
	if err != nil {
		s.logger.Warn("seal names an unknown key id", zap.String("key_id", req.Seal.HMACKeyID))
	}
	opts.RequireSignature = req.RequireSignature
	return toStruct(evidence.VerifySeal(*req.Pack, *req.Seal, opts))
}

// toStatus maps lifecycle and engine errors to gRPC status errors.
func (s *Service) toStatus(err error) error {
	var rej *fsm.Rejection
	switch {
	case errors.As(err, &rej):
		if rej.Code == fsm.CodeRoleDenied {
			return status.Error(codes.PermissionDenied, rej.Error())
		}
		return status.Error(codes.FailedPrecondition, rej.Error())
	case errors.Is(err, fsm.ErrUnknownMachine), errors.Is(err, lifecycle.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, lifecycle.ErrEntityMismatch):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, lifecycle.ErrVersionConflict):
		return status.Error(codes.Aborted, err.Error())
	default:
		s.logger.Error("grpc lifecycle call failed", zap.Error(err))
		return status.Error(codes.Internal, err.Error())
	}
}

// Server hosts the lifecycle, health and reflection services.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *zap.Logger
}

// NewServer creates a Server. Lifecycle calls require an actor token issued
// by tokens.
func NewServer(svc *Service, tokens *identity.TokenIssuer, logger *zap.Logger) *Server {
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryAuthInterceptor(tokens)))
	RegisterLifecycleServer(gs, svc)

	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(gs)
	return &Server{grpc: gs, health: hs, logger: logger}
}

// SetServing flips the reported health of the lifecycle service.
func (s *Server) SetServing(serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpc.Serve(lis)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}
