// Package config loads and validates the coordinator's YAML configuration:
// decode with
// yaml.Decoder.KnownFields(true) so a typo'd key fails fast, then run a
// single Validate pass before the daemon starts any service.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"

	"github.com/commerceblock/guardnode-coordinator/pkg/guardnode"
)

// Challenge carries the cadence and timeout parameters of the Challenge
// Engine's cadence loop.
type Challenge struct {
	Duration       time.Duration `yaml:"Duration"`
	Frequency      uint32        `yaml:"Frequency"`
	VerifyDuration time.Duration `yaml:"VerifyDuration"`
	RefreshDelay   time.Duration `yaml:"RefreshDelay"`
}

// Service carries the service-chain RPC endpoint and its block time.
type Service struct {
	Host      string        `yaml:"Host"`
	User      string        `yaml:"User"`
	Pass      string        `yaml:"Pass"`
	BlockTime time.Duration `yaml:"BlockTime"`
}

// Clientchain carries the client-chain RPC endpoint, the chain it pins the
// request to, and the economic parameters used to construct challenges and
// (eventually) payments.
type Clientchain struct {
	Host         string        `yaml:"Host"`
	User         string        `yaml:"User"`
	Pass         string        `yaml:"Pass"`
	GenesisHash  string        `yaml:"GenesisHash"`
	BlockTime    time.Duration `yaml:"BlockTime"`
	Chain        string        `yaml:"Chain"`
	Asset        string        `yaml:"Asset"`
	AssetKey     string        `yaml:"AssetKey"`
	PaymentAsset string        `yaml:"PaymentAsset"`
	PaymentKey   string        `yaml:"PaymentKey"`
	PaymentAddr  string        `yaml:"PaymentAddr"`
}

// Storage carries the Store's connection parameters.
type Storage struct {
	Host string `yaml:"Host"`
	Name string `yaml:"Name"`
	User string `yaml:"User"`
	Pass string `yaml:"Pass"`
}

// Metrics gates the Prometheus collector registration and handler.
type Metrics struct {
	Enabled bool `yaml:"Enabled"`
}

// Config is the coordinator's full process configuration.
type Config struct {
	Challenge   Challenge     `yaml:"Challenge"`
	Listener    BasicService  `yaml:"Listener"`
	API         BasicService  `yaml:"API"`
	Service     Service       `yaml:"Service"`
	Clientchain Clientchain   `yaml:"Clientchain"`
	Storage     Storage       `yaml:"Storage"`
	Logging     Logging       `yaml:"Logging"`
	Metrics     Metrics       `yaml:"Metrics"`
}

// defaults pre-seeds a Config with the values spec'd for fields operators
// commonly omit, before the YAML decode overwrites whatever the file sets.
func defaults() Config {
	var cfg Config
	cfg.Challenge.Duration = 60 * time.Second
	cfg.Challenge.Frequency = 1
	cfg.Service.BlockTime = 60 * time.Second
	return cfg
}

// LoadFile reads and validates the YAML configuration at path.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: open config file: %v", guardnode.ErrConfig, err)
	}
	defer f.Close()

	cfg := defaults()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode config file: %v", guardnode.ErrConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the hard startup checks: genesisHash is 64 hex chars,
// assetKey is a 52-character base58check key, chain and paymentAsset are
// non-empty, and paymentAddr (if present) is at least well-formed
// base58check (full chain-address parsing is out of scope here; the
// client-chain adapter is the authority on address validity at runtime).
func (c Config) Validate() error {
	if len(c.Clientchain.GenesisHash) != 64 {
		return guardnode.NewInputError("clientchain.genesisHash", c.Clientchain.GenesisHash)
	}
	for _, r := range c.Clientchain.GenesisHash {
		if !isHexDigit(r) {
			return guardnode.NewInputError("clientchain.genesisHash", c.Clientchain.GenesisHash)
		}
	}

	if len(c.Clientchain.AssetKey) != 52 {
		return guardnode.NewInputError("clientchain.assetKey", c.Clientchain.AssetKey)
	}
	if _, _, err := base58.CheckDecode(c.Clientchain.AssetKey); err != nil {
		return guardnode.NewInputError("clientchain.assetKey", c.Clientchain.AssetKey)
	}

	if c.Clientchain.Chain == "" {
		return guardnode.NewInputError("clientchain.chain", c.Clientchain.Chain)
	}
	if c.Clientchain.PaymentAsset == "" {
		return guardnode.NewInputError("clientchain.paymentAsset", c.Clientchain.PaymentAsset)
	}

	if c.Clientchain.PaymentAddr != "" {
		if _, _, err := base58.CheckDecode(c.Clientchain.PaymentAddr); err != nil {
			return guardnode.NewInputError("clientchain.paymentAddr", c.Clientchain.PaymentAddr)
		}
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("%w: %v", guardnode.ErrConfig, err)
	}

	if c.Challenge.VerifyDuration <= 0 || c.Challenge.Duration <= 0 {
		return guardnode.NewInputError("challenge.duration/verifyDuration", "must be positive")
	}

	return nil
}

func isHexDigit(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
