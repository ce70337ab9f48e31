// Package config loads the yaml settings shared by the client and worker
// programs. Command line flags override whatever is loaded here.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Modules holds the ledger runtime's pallet and call indices.
type Modules struct {
	Registry         uint8 `yaml:"registry"`
	Balances         uint8 `yaml:"balances"`
	TransferFunction uint8 `yaml:"transfer_function"`
}

type Attestation struct {
	// client side
	Verify         bool   `yaml:"verify"`
	JWKURL         string `yaml:"jwk_url"`
	Issuer         string `yaml:"issuer"`
	ImageReference string `yaml:"image_reference"`
	AllowDebug     bool   `yaml:"allow_debug"`

	// worker side
	UseTestIssuer bool   `yaml:"use_test_issuer"`
	SocketPath    string `yaml:"socket_path"`

	Audience                   string `yaml:"audience"`
	MarshalSingleStringAsArray bool   `yaml:"marshal_single_string_as_array"`
}

type Client struct {
	LedgerURL  string `yaml:"ledger_url"`
	WorkerURL  string `yaml:"worker_url"`
	TLSCA      string `yaml:"tls_ca"`
	ServerName string `yaml:"server_name"`
	MrEnclave  string `yaml:"mrenclave"`
	Shard      string `yaml:"shard"`
	// Signer pays for ledger transactions.
	Signer string `yaml:"signer"`
	// Root signs set-balance.
	Root              string      `yaml:"root"`
	LedgerKeystoreDir string      `yaml:"ledger_keystore_dir"`
	KeystoreDir       string      `yaml:"keystore_dir"`
	Attestation       Attestation `yaml:"attestation"`
}

type Worker struct {
	Listen    string `yaml:"listen"`
	LedgerURL string `yaml:"ledger_url"`

	// URL is advertised in register_enclave.
	URL          string      `yaml:"url"`
	TLSCert      string      `yaml:"tls_cert"`
	TLSKey       string      `yaml:"tls_key"`
	ShieldingKey string      `yaml:"shielding_key"`
	Signer       string      `yaml:"signer"`
	MrEnclave    string      `yaml:"mrenclave"`
	Shards       []string    `yaml:"shards"`
	Root         string      `yaml:"root"`
	Register     bool        `yaml:"register"`
	DedupSize    int         `yaml:"dedup_size"`
	Attestation  Attestation `yaml:"attestation"`
}

type Config struct {
	Modules Modules `yaml:"modules"`
	Client  Client  `yaml:"client"`
	Worker  Worker  `yaml:"worker"`
}

func Default() *Config {
	return &Config{
		Modules: Modules{Registry: 7, Balances: 4, TransferFunction: 0},
		Client: Client{
			LedgerURL:         "ws://127.0.0.1:9944",
			WorkerURL:         "http://127.0.0.1:2000",
			Signer:            "//Alice",
			Root:              "//AliceIncognito",
			LedgerKeystoreDir: "my_keystore",
			KeystoreDir:       "my_trusted_keystore",
			Attestation: Attestation{
				Issuer: "https://confidentialcomputing.googleapis.com",
				JWKURL: "https://www.googleapis.com/service_accounts/v1/metadata/jwk/signer@confidentialspace-sign.iam.gserviceaccount.com",
			},
		},
		Worker: Worker{
			Listen:       ":2000",
			LedgerURL:    "ws://127.0.0.1:9944",
			URL:          "http://127.0.0.1:2000",
			ShieldingKey: "rsa3072.pem",
			Signer:       "//Worker",
			Root:         "//AliceIncognito",
			DedupSize:    200,
			Attestation: Attestation{
				SocketPath: "/run/container_launcher/teeserver.sock",
			},
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Modules.Registry == c.Modules.Balances {
		return fmt.Errorf("registry and balances modules share index %d", c.Modules.Registry)
	}
	if c.Worker.DedupSize < 0 {
		return fmt.Errorf("dedup_size must not be negative")
	}
	if c.Client.Attestation.Verify && c.Client.Attestation.ImageReference == "" {
		return fmt.Errorf("attestation.verify requires image_reference")
	}
	return nil
}
