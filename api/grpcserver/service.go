package grpcserver

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

const serviceName = "feemarket.v1.Relayer"

// RelayerServer is the server-side interface of the relayer service.
type RelayerServer interface {
	Enroll(context.Context, *EnrollRequest) (*TransitionResponse, error)
	Reposition(context.Context, *RepositionRequest) (*TransitionResponse, error)
	Remove(context.Context, *RemoveRequest) (*TransitionResponse, error)
	AdjustCollateral(context.Context, *AdjustCollateralRequest) (*TransitionResponse, error)
	GetState(context.Context, *StateRequest) (*StateResponse, error)
	GetOrderBook(context.Context, *OrderBookRequest) (*OrderBookResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error)
}

// RegisterRelayerServer registers srv on a gRPC server.
func RegisterRelayerServer(s grpc.ServiceRegistrar, srv RelayerServer) {
	s.RegisterService(&serviceDesc, srv)
}

// unary builds the method descriptor for one RPC, running the server's
// interceptor chain when one is installed.
func unary[Req, Resp any](name string, call func(RelayerServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RelayerServer), ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RelayerServer), ctx, req.(*Req))
			}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// fullMethod builds the full gRPC method path.
func fullMethod(method string) string {
	return fmt.Sprintf("/%s/%s", serviceName, method)
}

// serviceDesc is the manual gRPC service descriptor.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RelayerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Enroll", RelayerServer.Enroll),
		unary("Reposition", RelayerServer.Reposition),
		unary("Remove", RelayerServer.Remove),
		unary("AdjustCollateral", RelayerServer.AdjustCollateral),
		unary("GetState", RelayerServer.GetState),
		unary("GetOrderBook", RelayerServer.GetOrderBook),
		unary("GetBalance", RelayerServer.GetBalance),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "feemarket/v1/relayer.json",
}
