package grpcserver

import (
	"context"
	"fmt"
	"math/big"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"feemarket/domain/relayer"
)

// Client calls a relayer service. Failed calls carrying a relayer kind are
// returned as *relayer.Error wrapping the gRPC status.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to addr. Without options the connection is insecure.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.ForceCodec(JSONCodec{})))
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("relayer client: dial %s: %w", addr, err)
	}
	return &Client{cc: cc}, nil
}

func (c *Client) Close() error {
	return c.cc.Close()
}

func (c *Client) Enroll(ctx context.Context, fee, coll *big.Int) (*TransitionResponse, error) {
	resp := new(TransitionResponse)
	err := c.invoke(ctx, "Enroll", &EnrollRequest{Fee: fee.String(), Collateral: coll.String()}, resp)
	return resp, err
}

func (c *Client) Reposition(ctx context.Context, fee *big.Int) (*TransitionResponse, error) {
	resp := new(TransitionResponse)
	err := c.invoke(ctx, "Reposition", &RepositionRequest{Fee: fee.String()}, resp)
	return resp, err
}

func (c *Client) Remove(ctx context.Context) (*TransitionResponse, error) {
	resp := new(TransitionResponse)
	err := c.invoke(ctx, "Remove", &RemoveRequest{}, resp)
	return resp, err
}

func (c *Client) AdjustCollateral(ctx context.Context, target *big.Int) (*TransitionResponse, error) {
	resp := new(TransitionResponse)
	err := c.invoke(ctx, "AdjustCollateral", &AdjustCollateralRequest{Target: target.String()}, resp)
	return resp, err
}

func (c *Client) GetState(ctx context.Context) (*StateResponse, error) {
	resp := new(StateResponse)
	err := c.invoke(ctx, "GetState", &StateRequest{}, resp)
	return resp, err
}

func (c *Client) GetOrderBook(ctx context.Context, req *OrderBookRequest) (*OrderBookResponse, error) {
	resp := new(OrderBookResponse)
	err := c.invoke(ctx, "GetOrderBook", req, resp)
	return resp, err
}

func (c *Client) GetBalance(ctx context.Context, addr string) (*BalanceResponse, error) {
	resp := new(BalanceResponse)
	err := c.invoke(ctx, "GetBalance", &BalanceRequest{Address: addr}, resp)
	return resp, err
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	var trailer metadata.MD
	err := c.cc.Invoke(ctx, fullMethod(method), req, resp, grpc.Trailer(&trailer))
	if err == nil {
		return nil
	}
	if v := trailer.Get(kindTrailer); len(v) > 0 {
		if kind := relayer.ParseErrorKind(v[0]); kind != relayer.KindUnknown {
			return &relayer.Error{Kind: kind, Op: method, Msg: status.Convert(err).Message(), Err: err}
		}
	}
	return err
}
