package commands

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"feemarket/api/grpcserver"
	cfg "feemarket/config"
	"feemarket/domain/relayer"
	"feemarket/infra/chain"
	"feemarket/infra/chain/evm"
	"feemarket/infra/chain/ledger"
	"feemarket/infra/journal"
	"feemarket/infra/kafka"
	"feemarket/infra/logging"
	"feemarket/jobs/broadcaster"
	"feemarket/jobs/snapshotfeed"
	"feemarket/service"
	"feemarket/snapshot"
)

// node owns every long-running component of the daemon.
type node struct {
	conf   *cfg.Config
	logger logging.Logger

	gw      chain.Gateway
	closeGw func()
	journal journal.Store
	cache   *snapshot.Cache
	ctrl    *service.LifecycleController

	grpcSrv   *grpc.Server
	api       *grpcserver.Server
	feed      *snapshotfeed.Feed
	bc        *broadcaster.Broadcaster
	publisher *kafka.Producer
	metrics   *http.Server
}

func newNode(ctx context.Context, conf *cfg.Config, logger logging.Logger) (n *node, err error) {
	n = &node{conf: conf, logger: logger}
	defer func() {
		if err != nil {
			n.close()
		}
	}()

	// ---------------- Gateway ----------------

	key, err := loadKey(conf)
	if err != nil {
		return nil, err
	}
	if n.gw, n.closeGw, err = openGateway(ctx, conf, key, logger); err != nil {
		return nil, err
	}
	kind := n.gw.Kind()

	// ---------------- Journal ----------------

	if n.journal, err = journal.Open(conf.Journal.Backend, conf.JournalDir()); err != nil {
		return nil, errors.Wrap(err, "open journal")
	}

	// ---------------- Metrics ----------------

	metrics := service.NopMetrics()
	if conf.Instrumentation.Prometheus {
		metrics = service.PrometheusMetrics(conf.Instrumentation.Namespace, "chain", kind.String())
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		n.metrics = &http.Server{
			Addr:              conf.Instrumentation.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	// ---------------- Snapshot cache ----------------

	if n.cache, err = snapshot.NewCache(n.gw, conf.Feed.CacheSize, conf.Feed.BalanceTTL); err != nil {
		return nil, err
	}
	writer := &snapshot.Writer{Dir: conf.DataDir()}
	if last, err := snapshot.Load(writer.Path()); err != nil {
		logger.Error("ignoring unreadable snapshot", "path", writer.Path(), "err", err)
	} else {
		n.cache.Seed(last)
	}

	// ---------------- Controller ----------------

	self := crypto.PubkeyToAddress(key.PublicKey)
	n.ctrl, err = service.NewLifecycleController(ctx, n.gw, self,
		service.WithLogger(logger),
		service.WithJournal(n.journal),
		service.WithMetrics(metrics),
		service.WithEventHook(func(ev relayer.Event) { n.cache.Invalidate(ev.Relayer) }),
	)
	if err != nil {
		return nil, err
	}

	// ---------------- Jobs ----------------

	if conf.Kafka.Enabled {
		n.publisher = kafka.NewProducer(conf.Kafka.Brokers, conf.Kafka.SnapshotTopic)
		producer, err := broadcaster.NewProducer(conf.Kafka.Brokers)
		if err != nil {
			return nil, errors.Wrap(err, "dial kafka")
		}
		n.bc = broadcaster.New(n.journal, producer, conf.Kafka.EventsTopic, logger)
	}
	var pub snapshotfeed.Publisher
	if n.publisher != nil {
		pub = n.publisher
	}
	n.feed = snapshotfeed.New(n.cache, writer, pub, registryKey(conf, self), conf.Feed.Interval, logger)

	// ---------------- gRPC ----------------

	n.api = grpcserver.NewServer(n.ctrl, n.cache, logger)
	n.grpcSrv = n.api.NewGRPCServer()
	return n, nil
}

// Run serves until ctx ends or a component fails, then shuts down.
func (n *node) Run(ctx context.Context) error {
	defer n.close()

	if resumed, err := n.ctrl.Resume(); err != nil {
		return errors.Wrap(err, "resume open submissions")
	} else if resumed > 0 {
		n.logger.Info("resuming submissions", "count", resumed)
	}

	lis, err := net.Listen("tcp", n.conf.GRPC.ListenAddr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	return n.serve(ctx, lis)
}

// serve runs every component until ctx ends or one of them fails.
func (n *node) serve(ctx context.Context, lis net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.api.Serve(n.grpcSrv, lis) })
	g.Go(func() error {
		<-ctx.Done()
		// Detach pending confirmations first so handlers can return.
		n.ctrl.Close()
		n.grpcSrv.GracefulStop()
		return nil
	})

	g.Go(func() error { return n.feed.Run(ctx) })
	g.Go(func() error { return n.refreshOnTransition(ctx) })

	if n.bc != nil {
		g.Go(func() error { return n.bc.Run(ctx) })
	}

	if n.metrics != nil {
		g.Go(func() error {
			n.logger.Info("serving metrics", "addr", n.metrics.Addr)
			if err := n.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return n.metrics.Shutdown(shutdownCtx)
		})
	}

	n.logger.Info("node started", "relayer", n.ctrl.Identity().Hex(), "chain", n.ctrl.Kind().String(), "state", n.ctrl.State())
	return g.Wait()
}

// refreshOnTransition rereads the book after every settled transition so
// displays never lag the controller.
func (n *node) refreshOnTransition(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-n.ctrl.Refresh():
			if _, err := n.cache.Reload(ctx); err != nil && ctx.Err() == nil {
				n.logger.Error("refresh after transition failed", "err", err)
			}
		}
	}
}

func (n *node) close() {
	if n.ctrl != nil {
		n.ctrl.Close()
	}
	if n.bc != nil {
		if err := n.bc.Close(); err != nil {
			n.logger.Error("close broadcaster", "err", err)
		}
	}
	if n.publisher != nil {
		if err := n.publisher.Close(); err != nil {
			n.logger.Error("close snapshot producer", "err", err)
		}
	}
	if n.journal != nil {
		if err := n.journal.Close(); err != nil {
			n.logger.Error("close journal", "err", err)
		}
	}
	if n.closeGw != nil {
		n.closeGw()
	}
}

// ---------------- Wiring helpers ----------------

func openGateway(ctx context.Context, conf *cfg.Config, key *ecdsa.PrivateKey, logger logging.Logger) (chain.Gateway, func(), error) {
	kind, err := conf.Chain.ChainKind()
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case chain.KindEVM:
		client, err := ethclient.DialContext(ctx, conf.Chain.RPC)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "dial %s", conf.Chain.RPC)
		}
		wallet, err := bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(conf.Chain.ChainID))
		if err != nil {
			client.Close()
			return nil, nil, errors.Wrap(err, "build transactor")
		}
		minFee, err := conf.Chain.MinFeeAmount()
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		gw := evm.NewGateway(evm.Config{
			Registry:     common.HexToAddress(conf.Chain.Registry),
			MinFee:       minFee,
			PollInterval: conf.Chain.PollInterval,
		}, client, wallet, logger)
		return gw, client.Close, nil

	case chain.KindLedger:
		client, err := rpc.DialContext(ctx, conf.Chain.RPC)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "dial %s", conf.Chain.RPC)
		}
		gw := ledger.NewGateway(ledger.Config{
			PollInterval: conf.Chain.PollInterval,
			Finalized:    conf.Chain.Finalized,
		}, client, ledger.NewKeySigner(key), logger)
		return gw, client.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported chain kind %s", kind)
}

// loadKey decrypts the configured account from the keystore directory.
func loadKey(conf *cfg.Config) (*ecdsa.PrivateKey, error) {
	ks := keystore.NewKeyStore(conf.KeystoreDir(), keystore.StandardScryptN, keystore.StandardScryptP)
	accs := ks.Accounts()
	if len(accs) == 0 {
		return nil, fmt.Errorf("no keys in %s", conf.KeystoreDir())
	}

	var acc accounts.Account
	switch {
	case conf.Chain.Account != "":
		want := common.HexToAddress(conf.Chain.Account)
		found := false
		for _, a := range accs {
			if a.Address == want {
				acc, found = a, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("account %s not in %s", want.Hex(), conf.KeystoreDir())
		}
	case len(accs) == 1:
		acc = accs[0]
	default:
		return nil, fmt.Errorf("%d keys in %s; set chain.account", len(accs), conf.KeystoreDir())
	}

	raw, err := os.ReadFile(acc.URL.Path)
	if err != nil {
		return nil, errors.Wrap(err, "read key file")
	}
	key, err := keystore.DecryptKey(raw, conf.Chain.Password)
	if err != nil {
		return nil, errors.Wrapf(err, "unlock %s", acc.Address.Hex())
	}
	return key.PrivateKey, nil
}

// registryKey keys feed messages by registry so several markets can share
// a topic.
func registryKey(conf *cfg.Config, self common.Address) string {
	if conf.Chain.Kind == chain.KindEVM.String() {
		return common.HexToAddress(conf.Chain.Registry).Hex()
	}
	return conf.Chain.Kind + "/" + self.Hex()
}
