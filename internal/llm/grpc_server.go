package llm

import (
	"context"

	"github.com/duetlabs/duet/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// CompletionServer is the server side of the completion service.
type CompletionServer interface {
	Complete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterCompletionServer registers srv on s.
func RegisterCompletionServer(s *grpc.Server, srv CompletionServer) {
	s.RegisterService(&completionServiceDesc, srv)
}

var completionServiceDesc = grpc.ServiceDesc{
	ServiceName: "duet.completion.v1.CompletionService",
	HandlerType: (*CompletionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Complete", Handler: completeHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func completeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := &structpb.Struct{}
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompletionServer).Complete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: completeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CompletionServer).Complete(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ProviderServer exposes a Provider as a CompletionServer.
type ProviderServer struct {
	provider Provider
}

// NewProviderServer wraps p.
func NewProviderServer(p Provider) *ProviderServer {
	return &ProviderServer{provider: p}
}

// Complete implements CompletionServer.
func (s *ProviderServer) Complete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req wireRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	c, err := s.provider.Complete(ctx, domain.Request{System: req.System, Messages: req.Messages, Tools: req.Tools})
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	out, err := toStruct(wireResponse{Finish: c.Finish, Text: c.Text, ToolCalls: c.ToolCalls})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
