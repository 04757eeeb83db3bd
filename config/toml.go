package config

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// DefaultDirPerm is used for every directory EnsureRoot creates.
const DefaultDirPerm = 0o700

const header = `# feemarketd configuration.
#
# Every key can be overridden with an environment variable named
# FEEMARKET_<SECTION>_<KEY>, e.g. FEEMARKET_CHAIN_RPC.
# The key password is only read from FEEMARKET_CHAIN_PASSWORD.

`

// EnsureRoot creates home with its config and data directories and writes
// the default config file if none exists.
func EnsureRoot(home string) error {
	for _, dir := range []string{home, filepath.Join(home, DefaultConfigDir), filepath.Join(home, DefaultDataDir)} {
		if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	path := ConfigFile(home)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Home = home
	return WriteConfigFile(path, cfg)
}

// WriteConfigFile renders cfg as TOML to path.
func WriteConfigFile(path string, cfg *Config) error {
	var buf bytes.Buffer
	buf.WriteString(header)
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
