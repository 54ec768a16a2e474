package grpcserver

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProfileServiceClient calls intake.v1.ProfileService.
type ProfileServiceClient struct {
	conn grpc.ClientConnInterface
}

// NewProfileServiceClient returns a client bound to conn.
func NewProfileServiceClient(conn grpc.ClientConnInterface) *ProfileServiceClient {
	return &ProfileServiceClient{conn: conn}
}

func (client *ProfileServiceClient) Reconcile(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodReconcile, request, options...)
}

func (client *ProfileServiceClient) Evaluate(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodEvaluate, request, options...)
}

func (client *ProfileServiceClient) UpdateTransactionLimit(ctx context.Context, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	return client.invoke(ctx, methodUpdateLimit, request, options...)
}

func (client *ProfileServiceClient) invoke(ctx context.Context, methodName string, request *structpb.Struct, options ...grpc.CallOption) (*structpb.Struct, error) {
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethodPrefix+methodName, request, response, options...); err != nil {
		return nil, err
	}
	return response, nil
}

// DialProfileService opens a plaintext connection to target and waits until it is ready.
func DialProfileService(ctx context.Context, target string, options ...grpc.DialOption) (*ProfileServiceClient, *grpc.ClientConn, error) {
	dialOptions := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, options...)
	conn, err := grpc.NewClient(target, dialOptions...)
	if err != nil {
		return nil, nil, fmt.Errorf("grpc client: %w", err)
	}
	conn.Connect()
	if err := waitForClientReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("grpc connect %s: %w", target, err)
	}
	return NewProfileServiceClient(conn), conn, nil
}

func waitForClientReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		if state == connectivity.Ready {
			return nil
		}
		if state == connectivity.Shutdown {
			return errors.New("grpc connection shutdown before ready")
		}
		if !conn.WaitForStateChange(ctx, state) {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("grpc connection failed to reach ready state")
		}
	}
}
