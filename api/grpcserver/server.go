package grpcserver

import (
	"context"
	"errors"
	"math/big"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"feemarket/domain/orderbook"
	"feemarket/domain/relayer"
	"feemarket/infra/logging"
	"feemarket/service"
	"feemarket/snapshot"
)

// kindTrailer carries the relayer.ErrorKind of a failed call.
const kindTrailer = "x-relayer-error-kind"

var _ RelayerServer = (*Server)(nil)

// Server adapts a LifecycleController and a snapshot.Cache to gRPC.
type Server struct {
	ctrl   *service.LifecycleController
	cache  *snapshot.Cache
	logger logging.Logger
}

func NewServer(ctrl *service.LifecycleController, cache *snapshot.Cache, logger logging.Logger) *Server {
	return &Server{
		ctrl:   ctrl,
		cache:  cache,
		logger: logger.With("module", "grpc"),
	}
}

// NewGRPCServer returns a gRPC server with s registered and request
// logging installed.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.logCalls))
	gs := grpc.NewServer(opts...)
	RegisterRelayerServer(gs, s)
	return gs
}

// Serve serves on lis until gs stops.
func (s *Server) Serve(gs *grpc.Server, lis net.Listener) error {
	s.logger.Info("serving", "addr", lis.Addr().String())
	return gs.Serve(lis)
}

// -------------------- Commands --------------------

func (s *Server) Enroll(ctx context.Context, req *EnrollRequest) (*TransitionResponse, error) {
	fee, err := parseAmount("fee", req.Fee)
	if err != nil {
		return nil, err
	}
	coll, err := parseAmount("collateral", req.Collateral)
	if err != nil {
		return nil, err
	}
	res, err := s.ctrl.Enroll(ctx, fee, coll)
	return s.transition(ctx, res, err)
}

func (s *Server) Reposition(ctx context.Context, req *RepositionRequest) (*TransitionResponse, error) {
	fee, err := parseAmount("fee", req.Fee)
	if err != nil {
		return nil, err
	}
	res, err := s.ctrl.Reposition(ctx, fee)
	return s.transition(ctx, res, err)
}

func (s *Server) Remove(ctx context.Context, _ *RemoveRequest) (*TransitionResponse, error) {
	res, err := s.ctrl.Remove(ctx)
	return s.transition(ctx, res, err)
}

func (s *Server) AdjustCollateral(ctx context.Context, req *AdjustCollateralRequest) (*TransitionResponse, error) {
	target, err := parseAmount("target", req.Target)
	if err != nil {
		return nil, err
	}
	res, err := s.ctrl.AdjustCollateral(ctx, target)
	return s.transition(ctx, res, err)
}

func (s *Server) transition(ctx context.Context, res service.Result, err error) (*TransitionResponse, error) {
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	s.cache.Invalidate(s.ctrl.Identity())
	return toTransition(res), nil
}

// -------------------- Queries --------------------

func (s *Server) GetState(_ context.Context, _ *StateRequest) (*StateResponse, error) {
	return &StateResponse{
		Relayer: s.ctrl.Identity().Hex(),
		Chain:   s.ctrl.Kind().String(),
		State:   s.ctrl.State().String(),
	}, nil
}

func (s *Server) GetOrderBook(ctx context.Context, req *OrderBookRequest) (*OrderBookResponse, error) {
	var per *big.Int
	if req.CollateralPerOrder != "" {
		var err error
		if per, err = parseAmount("collateralPerOrder", req.CollateralPerOrder); err != nil {
			return nil, err
		}
	}

	var (
		snap *orderbook.Snapshot
		err  error
	)
	if req.Refresh {
		snap, err = s.cache.Refresh(ctx)
	} else {
		snap, err = s.cache.Snapshot(ctx)
	}
	if err != nil {
		return nil, toStatus(ctx, err)
	}

	resp := &OrderBookResponse{
		Height:   snap.Height(),
		ReadAt:   snap.ReadAt().Unix(),
		Relayers: make([]BookEntry, 0, snap.Len()),
	}
	snap.Walk(func(i int, e orderbook.Entry) bool {
		resp.Relayers = append(resp.Relayers, BookEntry{
			Position:   i + 1,
			Address:    e.Address.Hex(),
			Fee:        e.Fee.String(),
			Collateral: e.Collateral.String(),
			Locked:     e.Locked.String(),
			Free:       e.Free().String(),
		})
		return true
	})
	if pos, ok := orderbook.Position(snap, s.ctrl.Identity()); ok {
		resp.Position = pos
	}
	if req.Orders > 0 {
		if fee, ok := orderbook.MarketFee(snap, req.Orders, per); ok {
			resp.MarketFee = fee.String()
		}
	}
	return resp, nil
}

func (s *Server) GetBalance(ctx context.Context, req *BalanceRequest) (*BalanceResponse, error) {
	addr := s.ctrl.Identity()
	if req.Address != "" {
		if !common.IsHexAddress(req.Address) {
			return nil, status.Errorf(codes.InvalidArgument, "address %q is not a hex address", req.Address)
		}
		addr = common.HexToAddress(req.Address)
	}
	bal, err := s.cache.Balance(ctx, addr)
	if err != nil {
		return nil, toStatus(ctx, err)
	}
	return &BalanceResponse{
		Address:   addr.Hex(),
		Total:     amountString(bal.Total),
		Available: amountString(bal.Available),
	}, nil
}

// -------------------- Helpers --------------------

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Error("rpc failed", "method", info.FullMethod, "code", status.Code(err), "err", err)
		return resp, err
	}
	s.logger.Debug("rpc", "method", info.FullMethod, "took", time.Since(start))
	return resp, nil
}

func toTransition(r service.Result) *TransitionResponse {
	out := &TransitionResponse{Submitted: r.Submitted()}
	if r.OpID == "" {
		return out
	}
	out.OpID = r.OpID
	out.Op = r.Op.String()
	out.From = r.From.String()
	out.To = r.To.String()
	if r.Submitted() {
		out.TxHash = r.Tx.Hash.Hex()
	}
	if r.Receipt != nil {
		out.BlockNumber = r.Receipt.BlockNumber
	}
	return out
}

// toStatus maps err to a gRPC status and records its relayer kind in the
// trailer so clients can rebuild the *relayer.Error.
func toStatus(ctx context.Context, err error) error {
	kind := relayer.KindOf(err)
	if kind != relayer.KindUnknown {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(kindTrailer, kind.String()))
	}

	code := codes.Unknown
	switch kind {
	case relayer.BelowMinimumFee, relayer.BelowMinimumCollateral, relayer.NegativeAmount:
		code = codes.InvalidArgument
	case relayer.InsufficientBalance, relayer.BelowLockedCollateral, relayer.InvalidState:
		code = codes.FailedPrecondition
	case relayer.NotPresent:
		code = codes.NotFound
	case relayer.OperationInProgress, relayer.StalePointer, relayer.Reverted:
		code = codes.Aborted
	case relayer.WalletRejected:
		code = codes.PermissionDenied
	case relayer.NetworkFailure:
		code = codes.Unavailable
	case relayer.Detached:
		code = codes.Canceled
		if errors.Is(err, context.DeadlineExceeded) {
			code = codes.DeadlineExceeded
		}
	default:
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			code = codes.DeadlineExceeded
		case errors.Is(err, context.Canceled):
			code = codes.Canceled
		}
	}
	return status.Error(code, err.Error())
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "%s: %q is not a base-10 integer", field, s)
	}
	return v, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
