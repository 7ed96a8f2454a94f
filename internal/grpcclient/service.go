package grpcclient

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/face-verify/internal/facematch"
)

// VerifyMethod is the full gRPC method name of the matcher's unary call.
const VerifyMethod = "/facematch.v1.FaceMatcher/Verify"

// FaceMatcherServer is implemented by matcher sidecars.
type FaceMatcherServer interface {
	Verify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes facematch.v1.FaceMatcher.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "facematch.v1.FaceMatcher",
	HandlerType: (*FaceMatcherServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Verify", Handler: verifyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "facematch/v1/facematch.proto",
}

// RegisterFaceMatcherServer registers srv on s.
func RegisterFaceMatcherServer(s grpc.ServiceRegistrar, srv FaceMatcherServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func verifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FaceMatcherServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: VerifyMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FaceMatcherServer).Verify(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// MatcherServer exposes any facematch.Matcher over gRPC.
type MatcherServer struct {
	Matcher facematch.Matcher
}

// Verify implements FaceMatcherServer.
func (s *MatcherServer) Verify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := DecodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.Matcher.Verify(ctx, req)
	if errors.Is(err, facematch.ErrNoFaceDetected) {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return EncodeResult(res)
}
