// Package config holds the daemon configuration: a TOML file under the home
// directory, overridable by FEEMARKET_* environment variables.
package config

import (
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"feemarket/infra/chain"
)

const (
	EnvPrefix = "FEEMARKET"

	DefaultDirName    = ".feemarket"
	DefaultConfigDir  = "config"
	DefaultDataDir    = "data"
	DefaultConfigFile = "config.toml"
)

// DefaultHome returns $HOME/.feemarket.
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDirName
	}
	return filepath.Join(home, DefaultDirName)
}

// Config is the top-level configuration.
type Config struct {
	// Home is the root directory; relative paths resolve against it.
	Home string `mapstructure:"home" toml:"-"`

	Chain           ChainConfig           `mapstructure:"chain" toml:"chain"`
	Journal         JournalConfig         `mapstructure:"journal" toml:"journal"`
	Kafka           KafkaConfig           `mapstructure:"kafka" toml:"kafka"`
	GRPC            GRPCConfig            `mapstructure:"grpc" toml:"grpc"`
	Feed            FeedConfig            `mapstructure:"feed" toml:"feed"`
	Log             LogConfig             `mapstructure:"log" toml:"log"`
	Instrumentation InstrumentationConfig `mapstructure:"instrumentation" toml:"instrumentation"`
}

// ChainConfig selects the backend and the relayer's signing key.
type ChainConfig struct {
	// Kind is "evm" or "ledger".
	Kind string `mapstructure:"kind" toml:"kind"`
	RPC  string `mapstructure:"rpc" toml:"rpc"`

	// Registry is the registry contract address (evm only).
	Registry string `mapstructure:"registry" toml:"registry"`
	ChainID  uint64 `mapstructure:"chain_id" toml:"chain_id"`
	// MinFee is the protocol minimum quote in base units (evm only; the
	// ledger reports its own).
	MinFee   string `mapstructure:"min_fee" toml:"min_fee"`

	// Keystore is the directory holding the relayer's encrypted key.
	Keystore string `mapstructure:"keystore" toml:"keystore"`
	// Account selects the key; empty means the only key in Keystore.
	Account  string `mapstructure:"account" toml:"account"`
	// Password unlocks the key. Set it through FEEMARKET_CHAIN_PASSWORD.
	Password string `mapstructure:"password" toml:"-"`

	PollInterval time.Duration `mapstructure:"poll_interval" toml:"poll_interval"`
	// Finalized waits for finality instead of inclusion (ledger only).
	Finalized    bool          `mapstructure:"finalized" toml:"finalized"`
	// Decimals is the token precision used to print and parse amounts.
	Decimals     int32         `mapstructure:"decimals" toml:"decimals"`
}

type JournalConfig struct {
	// Backend is "pebble" or "sqlite".
	Backend string `mapstructure:"backend" toml:"backend"`
	Dir     string `mapstructure:"dir" toml:"dir"`
}

type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled" toml:"enabled"`
	Brokers       []string `mapstructure:"brokers" toml:"brokers"`
	EventsTopic   string   `mapstructure:"events_topic" toml:"events_topic"`
	SnapshotTopic string   `mapstructure:"snapshot_topic" toml:"snapshot_topic"`
}

type GRPCConfig struct {
	ListenAddr string `mapstructure:"listen_addr" toml:"listen_addr"`
}

type FeedConfig struct {
	Interval   time.Duration `mapstructure:"interval" toml:"interval"`
	CacheSize  int           `mapstructure:"cache_size" toml:"cache_size"`
	BalanceTTL time.Duration `mapstructure:"balance_ttl" toml:"balance_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"`
}

type InstrumentationConfig struct {
	Prometheus bool   `mapstructure:"prometheus" toml:"prometheus"`
	ListenAddr string `mapstructure:"listen_addr" toml:"listen_addr"`
	Namespace  string `mapstructure:"namespace" toml:"namespace"`
}

// DefaultConfig returns a local EVM setup with every optional service off.
func DefaultConfig() *Config {
	return &Config{
		Home: DefaultHome(),
		Chain: ChainConfig{
			Kind:         chain.KindEVM.String(),
			RPC:          "http://127.0.0.1:8545",
			Registry:     common.Address{}.Hex(),
			ChainID:      1337,
			MinFee:       "1",
			Keystore:     "keystore",
			PollInterval: time.Second,
			Decimals:     18,
		},
		Journal: JournalConfig{
			Backend: "pebble",
			Dir:     filepath.Join(DefaultDataDir, "journal"),
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"127.0.0.1:9092"},
			EventsTopic:   "feemarket.relayer.events",
			SnapshotTopic: "feemarket.orderbook",
		},
		GRPC: GRPCConfig{ListenAddr: "127.0.0.1:9190"},
		Feed: FeedConfig{
			Interval:   10 * time.Second,
			CacheSize:  1024,
			BalanceTTL: 15 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "logfmt"},
		Instrumentation: InstrumentationConfig{
			ListenAddr: ":26660",
			Namespace:  "feemarket",
		},
	}
}

// ConfigFile returns the path of the config file under home.
func ConfigFile(home string) string {
	return filepath.Join(home, DefaultConfigDir, DefaultConfigFile)
}

// Load reads home's config file, if any, over the defaults and applies
// environment overrides. A missing file is not an error.
func Load(home string) (*Config, error) {
	return LoadWith(viper.New(), home)
}

// LoadWith is Load on a caller-provided viper, so command flags bound to v
// take part.
func LoadWith(v *viper.Viper, home string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Home = home

	setDefaults(v, cfg)
	v.SetConfigFile(ConfigFile(home))
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "read %s", v.ConfigFileUsed())
		}
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.Home = home
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// the file omits it.
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("chain.kind", c.Chain.Kind)
	v.SetDefault("chain.rpc", c.Chain.RPC)
	v.SetDefault("chain.registry", c.Chain.Registry)
	v.SetDefault("chain.chain_id", c.Chain.ChainID)
	v.SetDefault("chain.min_fee", c.Chain.MinFee)
	v.SetDefault("chain.keystore", c.Chain.Keystore)
	v.SetDefault("chain.account", c.Chain.Account)
	v.SetDefault("chain.password", c.Chain.Password)
	v.SetDefault("chain.poll_interval", c.Chain.PollInterval)
	v.SetDefault("chain.finalized", c.Chain.Finalized)
	v.SetDefault("chain.decimals", c.Chain.Decimals)

	v.SetDefault("journal.backend", c.Journal.Backend)
	v.SetDefault("journal.dir", c.Journal.Dir)

	v.SetDefault("kafka.enabled", c.Kafka.Enabled)
	v.SetDefault("kafka.brokers", c.Kafka.Brokers)
	v.SetDefault("kafka.events_topic", c.Kafka.EventsTopic)
	v.SetDefault("kafka.snapshot_topic", c.Kafka.SnapshotTopic)

	v.SetDefault("grpc.listen_addr", c.GRPC.ListenAddr)

	v.SetDefault("feed.interval", c.Feed.Interval)
	v.SetDefault("feed.cache_size", c.Feed.CacheSize)
	v.SetDefault("feed.balance_ttl", c.Feed.BalanceTTL)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)

	v.SetDefault("instrumentation.prometheus", c.Instrumentation.Prometheus)
	v.SetDefault("instrumentation.listen_addr", c.Instrumentation.ListenAddr)
	v.SetDefault("instrumentation.namespace", c.Instrumentation.Namespace)
}

// Path resolves p against Home unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Home, p)
}

func (c *Config) JournalDir() string  { return c.Path(c.Journal.Dir) }
func (c *Config) KeystoreDir() string { return c.Path(c.Chain.Keystore) }
func (c *Config) DataDir() string     { return c.Path(DefaultDataDir) }

// ValidateBasic performs basic validation and returns an error if any
// check fails.
func (c *Config) ValidateBasic() error {
	if err := c.Chain.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [chain] section")
	}
	if err := c.Journal.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [journal] section")
	}
	if err := c.Kafka.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [kafka] section")
	}
	if err := c.Feed.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [feed] section")
	}
	if err := c.Log.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [log] section")
	}
	if err := c.Instrumentation.ValidateBasic(); err != nil {
		return errors.Wrap(err, "error in [instrumentation] section")
	}
	return nil
}

// ChainKind parses Kind.
func (c ChainConfig) ChainKind() (chain.ChainKind, error) {
	return chain.ParseKind(c.Kind)
}

// MinFeeAmount parses MinFee; empty means zero.
func (c ChainConfig) MinFeeAmount() (*big.Int, error) {
	if c.MinFee == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(c.MinFee, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("min_fee %q is not a non-negative integer", c.MinFee)
	}
	return v, nil
}

func (c ChainConfig) ValidateBasic() error {
	kind, err := c.ChainKind()
	if err != nil {
		return err
	}
	if c.RPC == "" {
		return errors.New("rpc can't be empty")
	}
	if kind == chain.KindEVM {
		if !common.IsHexAddress(c.Registry) {
			return fmt.Errorf("registry %q is not a hex address", c.Registry)
		}
		if _, err := c.MinFeeAmount(); err != nil {
			return err
		}
	}
	if c.Account != "" && !common.IsHexAddress(c.Account) {
		return fmt.Errorf("account %q is not a hex address", c.Account)
	}
	if c.PollInterval < 0 {
		return errors.New("poll_interval can't be negative")
	}
	if c.Decimals < 0 || c.Decimals > 36 {
		return fmt.Errorf("decimals must be within [0, 36], got %d", c.Decimals)
	}
	return nil
}

func (c JournalConfig) ValidateBasic() error {
	switch c.Backend {
	case "pebble", "sqlite":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Dir == "" {
		return errors.New("dir can't be empty")
	}
	return nil
}

func (c KafkaConfig) ValidateBasic() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return errors.New("brokers can't be empty when enabled")
	}
	if c.EventsTopic == "" || c.SnapshotTopic == "" {
		return errors.New("topics can't be empty when enabled")
	}
	return nil
}

func (c FeedConfig) ValidateBasic() error {
	if c.Interval < 0 {
		return errors.New("interval can't be negative")
	}
	if c.CacheSize <= 0 {
		return errors.New("cache_size must be positive")
	}
	if c.BalanceTTL < 0 {
		return errors.New("balance_ttl can't be negative")
	}
	return nil
}

func (c LogConfig) ValidateBasic() error {
	switch c.Level {
	case "debug", "info", "error", "none":
	default:
		return fmt.Errorf("unknown level %q", c.Level)
	}
	switch c.Format {
	case "", "logfmt", "plain", "json":
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}
	return nil
}

func (c InstrumentationConfig) ValidateBasic() error {
	if c.Prometheus && c.ListenAddr == "" {
		return errors.New("listen_addr can't be empty when prometheus is on")
	}
	return nil
}
