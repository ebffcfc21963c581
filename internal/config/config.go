// Package config loads and validates the dashboard configuration:
// target chain, RPC endpoints, contract address, network metadata for
// wallet_addEthereumChain, and the local listen surface.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/hayq-io/hayq-dashboard/internal/chainerr"
)

const appName = "hayq-dashboard"

// NativeCurrency describes the chain's native token for display and
// for the wallet_addEthereumChain descriptor.
type NativeCurrency struct {
	Name     string `mapstructure:"name" json:"name"`
	Symbol   string `mapstructure:"symbol" json:"symbol"`
	Decimals uint8  `mapstructure:"decimals" json:"decimals"`
}

// Config is the full configuration surface consumed by the core. All
// chain fields are required for full functionality; a missing contract
// address is a distinct, user-visible state rather than a startup
// failure.
type Config struct {
	TargetChainID   uint64         `mapstructure:"targetChainId"`
	RPCURL          string         `mapstructure:"rpcUrl"`
	WalletRPCURL    string         `mapstructure:"walletRpcUrl"`
	ContractAddress string         `mapstructure:"contractAddress"`
	NetworkName     string         `mapstructure:"networkName"`
	NativeCurrency  NativeCurrency `mapstructure:"nativeCurrency"`
	BlockExplorer   string         `mapstructure:"blockExplorer"`

	ListenHost string   `mapstructure:"listenHost"`
	ListenPort string   `mapstructure:"listenPort"`
	UIOrigins  []string `mapstructure:"uiOrigins"`

	DataDir string `mapstructure:"dataDir"`
}

// Load reads config.yaml from the usual locations, with HAYQ_*
// environment variables taking precedence. A missing file is not an
// error; env-only configuration is supported.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", appName))
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HAYQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a meaningful default still need one registered so
	// env-only configuration reaches Unmarshal.
	v.SetDefault("rpcUrl", "")
	v.SetDefault("walletRpcUrl", "")
	v.SetDefault("contractAddress", "")
	v.SetDefault("dataDir", "")

	v.SetDefault("targetChainId", 1)
	v.SetDefault("networkName", "Ethereum Mainnet")
	v.SetDefault("nativeCurrency.name", "ETH")
	v.SetDefault("nativeCurrency.symbol", "ETH")
	v.SetDefault("nativeCurrency.decimals", 18)
	v.SetDefault("blockExplorer", "https://etherscan.io")
	v.SetDefault("listenHost", "127.0.0.1")
	v.SetDefault("listenPort", "7420")
	v.SetDefault("uiOrigins", []string{"http://localhost:5173"})

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.RPCURL = strings.TrimSpace(c.RPCURL)
	c.WalletRPCURL = strings.TrimSpace(c.WalletRPCURL)
	c.ContractAddress = strings.TrimSpace(c.ContractAddress)
	c.NetworkName = strings.TrimSpace(c.NetworkName)
	c.BlockExplorer = strings.TrimSpace(c.BlockExplorer)

	if c.WalletRPCURL == "" {
		c.WalletRPCURL = c.RPCURL
	}
	if c.ContractAddress != "" {
		if !common.IsHexAddress(c.ContractAddress) {
			return fmt.Errorf("invalid contract address: %q", c.ContractAddress)
		}
		c.ContractAddress = common.HexToAddress(c.ContractAddress).Hex()
	}
	if c.TargetChainID == 0 {
		return fmt.Errorf("targetChainId is required")
	}
	return nil
}

// ContractConfigured reports whether a contract address is present.
// When false the binding resolver surfaces MissingConfiguration.
func (c *Config) ContractConfigured() bool {
	return c.ContractAddress != ""
}

// ConfigurationError returns the standing MissingConfiguration error
// for an absent contract address, or nil.
func (c *Config) ConfigurationError() *chainerr.Error {
	if c.ContractConfigured() {
		return nil
	}
	return chainerr.New(chainerr.KindMissingConfiguration, "contract address is not configured")
}

// ChainIDHex renders the target chain id the way wallet RPC verbs
// expect it.
func (c *Config) ChainIDHex() string {
	return fmt.Sprintf("0x%x", c.TargetChainID)
}

// ExplorerAddressURL builds a block-explorer link for an address.
func (c *Config) ExplorerAddressURL(addr string) string {
	if c.BlockExplorer == "" {
		return ""
	}
	return strings.TrimRight(c.BlockExplorer, "/") + "/address/" + addr
}

// ExplorerTxURL builds a block-explorer link for a transaction hash.
func (c *Config) ExplorerTxURL(hash string) string {
	if c.BlockExplorer == "" {
		return ""
	}
	return strings.TrimRight(c.BlockExplorer, "/") + "/tx/" + hash
}

// ListenAddr is the host:port the dashboard API binds to.
func (c *Config) ListenAddr() string {
	return c.ListenHost + ":" + c.ListenPort
}
