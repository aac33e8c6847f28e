package medvault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testRegistry  = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	testLedger    = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testSignerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfigFile(t, `
rpcUrl: https://rpc.test
registryAddress: `+testRegistry+`
ledgerAddress: `+testLedger+`
backendPrivateKey: `+testSignerKey+`
masterKey: `+testMasterKey+`
pinata:
  apiKey: key
  secretKey: secret
listenAddr: ":9090"
`)

	conf, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://rpc.test", conf.RPCURL)
	assert.Equal(t, ":9090", conf.ListenAddr)
	assert.Equal(t, "./data", conf.DataDir, "unset fields take defaults")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
rpcUrl: https://file.test
registryAddress: `+testRegistry+`
ledgerAddress: `+testLedger+`
backendPrivateKey: `+testSignerKey+`
masterKey: `+testMasterKey+`
pinata:
  apiKey: key
  secretKey: secret
`)
	t.Setenv("RPC_URL", "https://env.test")
	t.Setenv("LISTEN_ADDR", ":7000")

	conf, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.test", conf.RPCURL)
	assert.Equal(t, ":7000", conf.ListenAddr)
}

func TestMissingFileIsEnvOnly(t *testing.T) {
	t.Setenv("RPC_URL", "https://env.test")
	t.Setenv("ACCESS_REGISTRY_ADDRESS", testRegistry)
	t.Setenv("RECORD_LEDGER_ADDRESS", testLedger)
	t.Setenv("BACKEND_PRIVATE_KEY", testSignerKey)
	t.Setenv("MASTER_KEY", testMasterKey)
	t.Setenv("PINATA_API_KEY", "key")
	t.Setenv("PINATA_SECRET_KEY", "secret")

	conf, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "https://env.test", conf.RPCURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		return Config{
			RPCURL:            "https://rpc.test",
			RegistryAddress:   testRegistry,
			LedgerAddress:     testLedger,
			BackendPrivateKey: testSignerKey,
			MasterKey:         testMasterKey,
			Pinata:            PinataConfig{APIKey: "k", SecretKey: "s"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing rpc url", func(c *Config) { c.RPCURL = "" }},
		{"missing signing key", func(c *Config) { c.BackendPrivateKey = "" }},
		{"bad registry address", func(c *Config) { c.RegistryAddress = "0x123" }},
		{"bad ledger address", func(c *Config) { c.LedgerAddress = "nonsense" }},
		{"short master key", func(c *Config) { c.MasterKey = "abcd" }},
		{"missing pinata secret", func(c *Config) { c.Pinata.SecretKey = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := base()
			tt.mutate(&conf)
			assert.Error(t, conf.Validate())
		})
	}

	conf := base()
	assert.NoError(t, conf.Validate())
}
