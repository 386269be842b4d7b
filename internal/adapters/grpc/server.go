package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/application"
	"github.com/viralforge/mesh/services/core-platform/M08-auth-security-core/internal/domain"
)

const serviceName = "viralforge.authsecurity.v1.LoginGuardService"

// LoginGuardService is the internal RPC surface used by the credential service
// around each password check.
type LoginGuardService interface {
	EvaluateLogin(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompleteLogin(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IsLocked(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type LoginGuardServer struct {
	service *application.Service
}

func NewLoginGuardServer(service *application.Service) *LoginGuardServer {
	return &LoginGuardServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc LoginGuardService) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*LoginGuardService)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "EvaluateLogin", Handler: unaryHandler("EvaluateLogin", svc.EvaluateLogin)},
			{MethodName: "CompleteLogin", Handler: unaryHandler("CompleteLogin", svc.CompleteLogin)},
			{MethodName: "IsLocked", Handler: unaryHandler("IsLocked", svc.IsLocked)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "authsecurity/v1/login_guard.proto",
	}, svc)
}

// FullMethod returns the wire name of a LoginGuardService method.
func FullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

func (s *LoginGuardServer) EvaluateLogin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	identity, err := optionalIdentity(req)
	if err != nil {
		return nil, err
	}
	decision, err := s.service.BeginLogin(ctx, application.BeginLoginRequest{
		Identity:  identity,
		IPAddress: stringField(req, "ip_address"),
		UserAgent: stringField(req, "user_agent"),
	})
	if err != nil {
		return nil, statusFromError(err)
	}

	out := map[string]any{
		"allowed":             decision.Allowed,
		"retry_after_seconds": decision.RetryAfter.Seconds(),
	}
	if !decision.Allowed {
		out["reason"] = string(decision.Reason)
	}
	return newStruct(out)
}

func (s *LoginGuardServer) CompleteLogin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	identity, err := optionalIdentity(req)
	if err != nil {
		return nil, err
	}
	out, err := s.service.CompleteLogin(ctx, application.CompleteLoginRequest{
		Identity:      identity,
		IPAddress:     stringField(req, "ip_address"),
		UserAgent:     stringField(req, "user_agent"),
		Succeeded:     req.GetFields()["succeeded"].GetBoolValue(),
		FailureReason: domain.FailureReason(strings.ToUpper(stringField(req, "failure_reason"))),
	})
	if err != nil {
		return nil, statusFromError(err)
	}

	resp := map[string]any{
		"attempt_id": float64(out.Attempt.ID),
		"status":     out.Attempt.Status(),
	}
	if out.State != nil {
		resp["failed_attempt_count"] = float64(out.State.FailedAttemptCount)
		resp["locked"] = out.State.LockedUntil != nil
		if out.State.LockedUntil != nil {
			resp["locked_until"] = out.State.LockedUntil.Unix()
		}
	}
	return newStruct(resp)
}

func (s *LoginGuardServer) IsLocked(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	identity, err := optionalIdentity(req)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, status.Error(codes.InvalidArgument, "missing identity")
	}
	locked, err := s.service.IsLocked(ctx, *identity)
	if err != nil {
		return nil, statusFromError(err)
	}
	return newStruct(map[string]any{"locked": locked})
}

func unaryHandler(method string, call func(context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: FullMethod(method),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}

func optionalIdentity(req *structpb.Struct) (*uuid.UUID, error) {
	raw := strings.TrimSpace(stringField(req, "identity"))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "identity must be a uuid")
	}
	return &id, nil
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func newStruct(fields map[string]any) (*structpb.Struct, error) {
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func statusFromError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrIdentityNotFound):
		return status.Error(codes.NotFound, "identity not found")
	case errors.Is(err, domain.ErrAccountLocked), errors.Is(err, domain.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.Aborted, "concurrent update")
	case errors.Is(err, domain.ErrStorageFailure):
		return status.Error(codes.Unavailable, "security store unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
