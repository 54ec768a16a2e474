package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	profileServiceName      = "intake.v1.ProfileService"
	methodReconcile         = "Reconcile"
	methodEvaluate          = "Evaluate"
	methodUpdateLimit       = "UpdateTransactionLimit"
	profileServiceProtoFile = "intake/v1/profile.proto"
	fullMethodPrefix        = "/" + profileServiceName + "/"
)

// ProfileService is the server API of intake.v1.ProfileService. Messages are
// google.protobuf.Struct documents.
type ProfileService interface {
	Reconcile(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Evaluate(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	UpdateTransactionLimit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

// ProfileServiceDesc describes intake.v1.ProfileService for grpc.Server.RegisterService.
var ProfileServiceDesc = grpc.ServiceDesc{
	ServiceName: profileServiceName,
	HandlerType: (*ProfileService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodReconcile, Handler: unaryHandler(methodReconcile, ProfileService.Reconcile)},
		{MethodName: methodEvaluate, Handler: unaryHandler(methodEvaluate, ProfileService.Evaluate)},
		{MethodName: methodUpdateLimit, Handler: unaryHandler(methodUpdateLimit, ProfileService.UpdateTransactionLimit)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: profileServiceProtoFile,
}

// RegisterProfileService registers implementation on registrar.
func RegisterProfileService(registrar grpc.ServiceRegistrar, implementation ProfileService) {
	registrar.RegisterService(&ProfileServiceDesc, implementation)
}

type unaryMethod func(ProfileService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(methodName string, method unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(structpb.Struct)
		if err := decode(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(server.(ProfileService), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethodPrefix + methodName}
		handler := func(ctx context.Context, request any) (any, error) {
			return method(server.(ProfileService), ctx, request.(*structpb.Struct))
		}
		return interceptor(ctx, request, info, handler)
	}
}
