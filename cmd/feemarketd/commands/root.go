package commands

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cfg "feemarket/config"
	"feemarket/infra/logging"
)

var (
	config = cfg.DefaultConfig()
	logger = logging.NewNopLogger()
	home   string
)

func init() {
	RootCmd.PersistentFlags().StringVar(&home, "home", cfg.DefaultHome(), "directory for config and data")
	RootCmd.PersistentFlags().String("log_level", config.Log.Level, "log level (debug|info|error|none)")
	RootCmd.PersistentFlags().String("grpc", config.GRPC.ListenAddr, "relayer service address")
}

// ParseConfig reads the config under --home. Flags bound to v override
// the file and the environment.
func ParseConfig(cmd *cobra.Command) (*cfg.Config, error) {
	v := viper.New()
	if err := v.BindPFlag("log.level", cmd.Flags().Lookup("log_level")); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("grpc.listen_addr", cmd.Flags().Lookup("grpc")); err != nil {
		return nil, err
	}
	conf, err := cfg.LoadWith(v, home)
	if err != nil {
		return nil, err
	}
	if err := conf.ValidateBasic(); err != nil {
		return nil, err
	}
	return conf, nil
}

// RootCmd is the root command for feemarketd.
var RootCmd = &cobra.Command{
	Use:          "feemarketd",
	Short:        "Fee market relayer daemon and client",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if cmd.Name() == VersionCmd.Name() || cmd.Name() == InitCmd.Name() {
			return nil
		}
		config, err = ParseConfig(cmd)
		if err != nil {
			return err
		}
		logger, err = logging.NewLogger(os.Stderr, config.Log.Format, config.Log.Level)
		return err
	},
}
