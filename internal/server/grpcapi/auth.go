package grpcapi

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/anungis437/nzila-automation-sub010/internal/fsm"
	"github.com/anungis437/nzila-automation-sub010/internal/identity"
)

type actorKey struct{}

// ActorFromContext returns the actor authenticated by UnaryAuthInterceptor.
func ActorFromContext(ctx context.Context) (fsm.Context, bool) {
	tc, ok := ctx.Value(actorKey{}).(fsm.Context)
	return tc, ok
}

// UnaryAuthInterceptor verifies the bearer token in the "authorization"
// metadata of lifecycle calls. Health and reflection calls pass through.
func UnaryAuthInterceptor(tokens *identity.TokenIssuer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "bearer token required")
		}
		tok, ok := identity.BearerToken(values[0])
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "bearer token required")
		}
		claims, err := tokens.Verify(tok)
		if err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
		}
		return handler(context.WithValue(ctx, actorKey{}, claims.Context()), req)
	}
}
