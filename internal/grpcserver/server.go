// Package grpcserver implements the ScrapeJobService gRPC server.
//
// It delegates all business logic to scrapejob.Service and handles only the
// gRPC transport concerns: caller resolution from metadata, error mapping
// and conversion between the domain model and well-known proto messages.
// Payloads use google.protobuf.Struct so the wire shape matches the REST
// JSON responses field for field.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"jobmate/scrape-service/internal/auth"
	"jobmate/scrape-service/internal/logging"
	"jobmate/scrape-service/internal/scrapejob"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "scrapejob.v1.ScrapeJobService"

// ScrapeJobServer is the server API of ScrapeJobService.
type ScrapeJobServer interface {
	StartScrapeJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetScrapeJob(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	AbortScrapeJob(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// ServiceDesc describes ScrapeJobService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ScrapeJobServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartScrapeJob", Handler: startHandler},
		{MethodName: "GetScrapeJob", Handler: getHandler},
		{MethodName: "AbortScrapeJob", Handler: abortHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "scrapejob/v1/scrape_job.proto",
}

// Register adds srv to the gRPC registrar.
func Register(r grpc.ServiceRegistrar, srv ScrapeJobServer) {
	r.RegisterService(&ServiceDesc, srv)
}

// Server implements ScrapeJobServer.
type Server struct {
	svc  *scrapejob.Service
	auth *auth.Authenticator
}

// NewServer constructs a gRPC Server backed by the given scrapejob.Service.
func NewServer(svc *scrapejob.Service, authn *auth.Authenticator) *Server {
	return &Server{svc: svc, auth: authn}
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// StartScrapeJob accepts the same fields as POST /api/scrape-job and returns
// {"requestId": ...}.
func (s *Server) StartScrapeJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}

	var in scrapejob.StartInput
	if err := decodeStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, "invalid request body")
	}

	job, err := s.svc.Start(ctx, userID, in)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{"requestId": job.ID})
}

// GetScrapeJob returns the status snapshot of a request.
func (s *Server) GetScrapeJob(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}

	job, err := s.svc.Get(ctx, userID, req.GetValue())
	if err != nil {
		return nil, toGRPCError(err)
	}
	return encodeStruct(scrapejob.NewStatusResponse(job))
}

// AbortScrapeJob requests cancellation and returns {"success": true}.
func (s *Server) AbortScrapeJob(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID, err := s.userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := s.svc.Abort(ctx, userID, req.GetValue()); err != nil {
		return nil, toGRPCError(err)
	}
	return structpb.NewStruct(map[string]any{"success": true})
}

// ─── Method handlers ─────────────────────────────────────────────────────────

func startHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScrapeJobServer).StartScrapeJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/StartScrapeJob"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ScrapeJobServer).StartScrapeJob(ctx, req.(*structpb.Struct))
	})
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScrapeJobServer).GetScrapeJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetScrapeJob"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ScrapeJobServer).GetScrapeJob(ctx, req.(*wrapperspb.StringValue))
	})
}

func abortHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScrapeJobServer).AbortScrapeJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/AbortScrapeJob"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ScrapeJobServer).AbortScrapeJob(ctx, req.(*wrapperspb.StringValue))
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// userIDFromCtx resolves the caller from gRPC metadata: the x-user-id value
// forwarded by the Gateway, or a bearer session token.
func (s *Server) userIDFromCtx(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	userID, err := s.auth.Resolve(first(md, "authorization"), "", first(md, auth.HeaderUserID))
	if err != nil {
		return "", status.Error(codes.Unauthenticated, "unauthorized")
	}
	return userID, nil
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	if errors.Is(err, scrapejob.ErrNotFound) {
		return status.Error(codes.NotFound, "request not found")
	}
	var ve *scrapejob.ValidationError
	if errors.As(err, &ve) {
		return status.Error(codes.InvalidArgument, ve.Msg)
	}
	return status.Error(codes.Internal, "internal server error")
}

func decodeStruct(s *structpb.Struct, v any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func encodeStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return out, nil
}

var _ ScrapeJobServer = (*Server)(nil)

// UnaryLogger logs one line per RPC with its status code.
func UnaryLogger(log *logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Info("grpc", "method", info.FullMethod, "code", status.Code(err).String(),
			"dur_ms", time.Since(start).Milliseconds())
		return resp, err
	}
}
