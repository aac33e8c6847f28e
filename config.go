package medvault

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/medblocks/medvault/internal/envelope"
	"github.com/medblocks/medvault/internal/identity"
)

// Config carries everything the vault needs to run. Values come from a YAML
// file and may be overridden by environment variables; the two secrets
// (backend signing key, master key) are normally supplied through the
// environment only and must never appear in logs.
type Config struct {
	// RPCURL is the ledger node endpoint.
	RPCURL string `yaml:"rpcUrl"`
	// RegistryAddress and LedgerAddress are the deployed contract addresses.
	RegistryAddress string `yaml:"registryAddress"`
	LedgerAddress   string `yaml:"ledgerAddress"`

	// BackendPrivateKey is the hex-encoded signing key of the backend
	// identity. Secret.
	BackendPrivateKey string `yaml:"backendPrivateKey"`
	// MasterKey is the 32-byte symmetric key (hex or base64). Secret.
	MasterKey string `yaml:"masterKey"`

	Pinata PinataConfig `yaml:"pinata"`

	// DataDir holds local state, currently the filename index.
	DataDir string `yaml:"dataDir"`
	// MinimumFreeGB refuses startup when DataDir's volume has less free
	// space. Zero disables the check.
	MinimumFreeGB uint64 `yaml:"minimumFreeGB"`

	ListenAddr string `yaml:"listenAddr"`

	GasLimit   uint64 `yaml:"gasLimit"`
	FeeCapGwei int64  `yaml:"feeCapGwei"`
	TipCapGwei int64  `yaml:"tipCapGwei"`
}

// PinataConfig configures the pinning service client.
type PinataConfig struct {
	APIKey    string        `yaml:"apiKey"`
	SecretKey string        `yaml:"secretKey"`
	APIBase   string        `yaml:"apiBase"`
	Gateway   string        `yaml:"gateway"`
	Retries   int           `yaml:"retries"`
	Backoff   time.Duration `yaml:"backoff"`
}

// LoadConfig reads the YAML file at path (a missing file is fine; the
// environment alone can carry a full configuration), applies environment
// overrides and defaults, and validates the result.
func LoadConfig(path string) (Config, error) {
	var conf Config

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &conf); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// env-only configuration
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	conf.applyEnv()
	conf.applyDefaults()

	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

func (c *Config) applyEnv() {
	setIfEnv(&c.RPCURL, "RPC_URL")
	setIfEnv(&c.RegistryAddress, "ACCESS_REGISTRY_ADDRESS")
	setIfEnv(&c.LedgerAddress, "RECORD_LEDGER_ADDRESS")
	setIfEnv(&c.BackendPrivateKey, "BACKEND_PRIVATE_KEY")
	setIfEnv(&c.MasterKey, "MASTER_KEY")
	setIfEnv(&c.Pinata.APIKey, "PINATA_API_KEY")
	setIfEnv(&c.Pinata.SecretKey, "PINATA_SECRET_KEY")
	setIfEnv(&c.Pinata.APIBase, "PINATA_API_BASE")
	setIfEnv(&c.Pinata.Gateway, "PINATA_GATEWAY")
	setIfEnv(&c.DataDir, "DATA_DIR")
	setIfEnv(&c.ListenAddr, "LISTEN_ADDR")

	if v, ok := os.LookupEnv("MINIMUM_FREE_GB"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.MinimumFreeGB = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
}

// Validate checks that every required field is present and well-formed
// before anything connects or opens.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("config: rpcUrl is required")
	}
	if c.BackendPrivateKey == "" {
		return fmt.Errorf("config: backendPrivateKey is required")
	}
	if _, err := identity.Parse(c.RegistryAddress); err != nil {
		return fmt.Errorf("config: registryAddress: %w", err)
	}
	if _, err := identity.Parse(c.LedgerAddress); err != nil {
		return fmt.Errorf("config: ledgerAddress: %w", err)
	}
	if _, err := envelope.KeyFromString(c.MasterKey); err != nil {
		return fmt.Errorf("config: masterKey: %w", err)
	}
	if c.Pinata.APIKey == "" || c.Pinata.SecretKey == "" {
		return fmt.Errorf("config: pinata apiKey and secretKey are required")
	}
	return nil
}

func setIfEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
