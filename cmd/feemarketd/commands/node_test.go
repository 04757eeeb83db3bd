package commands

import (
	"context"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"feemarket/api/grpcserver"
	cfg "feemarket/config"
	"feemarket/domain/relayer"
	"feemarket/infra/chain"
	"feemarket/infra/chain/chaintest"
	"feemarket/infra/journal"
	"feemarket/infra/logging"
	"feemarket/jobs/snapshotfeed"
	"feemarket/service"
	"feemarket/snapshot"
)

func keystoreConfig(t *testing.T, accounts int) (*cfg.Config, *keystore.KeyStore) {
	t.Helper()
	conf := cfg.DefaultConfig()
	conf.Home = t.TempDir()
	conf.Chain.Password = "pw"

	ks := keystore.NewKeyStore(conf.KeystoreDir(), keystore.LightScryptN, keystore.LightScryptP)
	for i := 0; i < accounts; i++ {
		_, err := ks.NewAccount("pw")
		require.NoError(t, err)
	}
	return conf, ks
}

func TestLoadKeySingleAccount(t *testing.T) {
	conf, ks := keystoreConfig(t, 1)

	key, err := loadKey(conf)
	require.NoError(t, err)
	assert.Equal(t, ks.Accounts()[0].Address, crypto.PubkeyToAddress(key.PublicKey))
}

func TestLoadKeyNeedsAccountWhenAmbiguous(t *testing.T) {
	conf, ks := keystoreConfig(t, 2)

	_, err := loadKey(conf)
	require.Error(t, err)

	want := ks.Accounts()[1].Address
	conf.Chain.Account = want.Hex()
	key, err := loadKey(conf)
	require.NoError(t, err)
	assert.Equal(t, want, crypto.PubkeyToAddress(key.PublicKey))
}

func TestLoadKeyWrongPassword(t *testing.T) {
	conf, _ := keystoreConfig(t, 1)
	conf.Chain.Password = "nope"

	_, err := loadKey(conf)
	assert.Error(t, err)
}

func TestOpenGatewayByKind(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	for _, kind := range []chain.ChainKind{chain.KindEVM, chain.KindLedger} {
		conf := cfg.DefaultConfig()
		conf.Chain.Kind = kind.String()

		gw, closeGw, err := openGateway(context.Background(), conf, key, logging.NewNopLogger())
		require.NoError(t, err, kind.String())
		assert.Equal(t, kind, gw.Kind())
		closeGw()
	}
}

// testNode wires a node around gw the way newNode does, minus keys,
// kafka and metrics.
func testNode(t *testing.T, gw *chaintest.MockGateway, store journal.Store) *node {
	t.Helper()
	conf := cfg.DefaultConfig()
	conf.Home = t.TempDir()
	logger := logging.NewNopLogger()

	n := &node{conf: conf, logger: logger, gw: gw, journal: store}
	var err error
	n.cache, err = snapshot.NewCache(gw, 16, time.Minute)
	require.NoError(t, err)
	n.ctrl, err = service.NewLifecycleController(context.Background(), gw, gw.Self,
		service.WithLogger(logger),
		service.WithJournal(store),
	)
	require.NoError(t, err)
	n.feed = snapshotfeed.New(n.cache, &snapshot.Writer{Dir: conf.DataDir()}, nil, "test", time.Hour, logger)
	n.api = grpcserver.NewServer(n.ctrl, n.cache, logger)
	n.grpcSrv = n.api.NewGRPCServer()
	return n
}

func TestShutdownDetachesPendingConfirmation(t *testing.T) {
	store, err := journal.OpenPebble(t.TempDir())
	require.NoError(t, err)

	self := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	gw := chaintest.NewMockGateway(chain.KindEVM, self)
	gw.ConfirmDelay = time.Hour
	n := testNode(t, gw, store)
	defer n.close()

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- n.serve(ctx, lis) }()

	client, err := grpcserver.Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer client.Close()

	enrolled := make(chan error, 1)
	go func() {
		_, err := client.Enroll(context.Background(), big.NewInt(100), big.NewInt(50))
		enrolled <- err
	}()
	require.Eventually(t, func() bool { return n.ctrl.State() == relayer.Submitting },
		5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return while a confirmation was pending")
	}

	err = <-enrolled
	require.Error(t, err)
	assert.Equal(t, relayer.Detached, relayer.KindOf(err))
	assert.Equal(t, relayer.Submitting, n.ctrl.State())

	// The submission is left open for the next process to resume.
	open := 0
	for _, st := range []journal.State{journal.StatePending, journal.StateDetached} {
		require.NoError(t, store.ScanByState(st, func(journal.Record) error {
			open++
			return nil
		}))
	}
	assert.Equal(t, 1, open)
}
