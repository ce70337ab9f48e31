package main

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/config"
	"github.com/salrashid123/trustedcall/enclave"
	"github.com/salrashid123/trustedcall/extrinsic"
	"github.com/salrashid123/trustedcall/forwarder"
	"github.com/salrashid123/trustedcall/keystore"
	"github.com/salrashid123/trustedcall/ledger"
	"github.com/salrashid123/trustedcall/registry"
	"github.com/salrashid123/trustedcall/shielding"
	"github.com/salrashid123/trustedcall/workerapi"
)

var (
	configFile = flag.String("config", "", "yaml config file")

	listen        = flag.String("listen", "", "address to listen on (default :2000)")
	ledgerURL     = flag.String("ledger", "", "ledger websocket url")
	mrenclave     = flag.String("mrenclave", "", "base58 mrenclave of this worker")
	shieldingKey  = flag.String("shieldingKey", "", "RSA shielding key PEM, generated when missing")
	signer        = flag.String("signer", "", "//Name development key or path to a hex signing key file, generated when missing")
	register      = flag.Bool("register", false, "register this worker on the ledger before serving")
	useTestIssuer = flag.Bool("useTestIssuer", false, "Use Testing attestation token Issuer")
	noAttestation = flag.Bool("noAttestation", false, "serve shielding keys without an attestation token")

	tlsCert = flag.String("tlsCert", "", "TLS Cert")
	tlsKey  = flag.String("tlsKey", "", "TLS Key")
)

func main() {
	flag.Set("alsologtostderr", "true")
	flag.Set("v", "20")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		glog.Errorf("Error loading config: %v", err)
		os.Exit(1)
	}
	applyFlags(&cfg.Worker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		glog.Errorf("worker stopped: %v", err)
		os.Exit(1)
	}
	glog.Info("Shutting down worker")
}

func applyFlags(w *config.Worker) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&w.Listen, *listen)
	set(&w.LedgerURL, *ledgerURL)
	set(&w.MrEnclave, *mrenclave)
	set(&w.ShieldingKey, *shieldingKey)
	set(&w.Signer, *signer)
	set(&w.TLSCert, *tlsCert)
	set(&w.TLSKey, *tlsKey)
	if *register {
		w.Register = true
	}
	if *useTestIssuer {
		w.Attestation.UseTestIssuer = true
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	w := cfg.Worker
	jwt.MarshalSingleStringAsArray = w.Attestation.MarshalSingleStringAsArray

	m, _, err := common.ParseIdentifiers(w.MrEnclave, "")
	if err != nil {
		return err
	}
	var shards []common.ShardIdentifier
	for _, s := range w.Shards {
		sh, err := common.ParseShard(s)
		if err != nil {
			return err
		}
		shards = append(shards, sh)
	}
	root, err := keystore.AccountFromString(w.Root)
	if err != nil {
		return err
	}

	key, err := loadShieldingKey(w.ShieldingKey)
	if err != nil {
		return err
	}
	pair, err := loadSigner(w.Signer)
	if err != nil {
		return err
	}
	glog.Infof("worker account %s", keystore.SS58Encode(pair.Public()))

	sim, err := enclave.New(enclave.Config{
		Shielding:      key,
		Signer:         pair,
		MrEnclave:      m,
		Root:           root,
		RegistryModule: cfg.Modules.Registry,
		Shards:         shards,
	})
	if err != nil {
		return err
	}

	client, err := ledger.Dial(ctx, w.LedgerURL)
	if err != nil {
		return err
	}
	defer client.Close()

	if w.Register {
		call, err := registry.RegisterEnclave(cfg.Modules.Registry, m, w.URL)
		if err != nil {
			return err
		}
		h, err := extrinsic.NewSubmitter(client, cfg.Modules.Registry).SubmitCall(ctx, call, pair)
		if err != nil {
			return err
		}
		glog.Infof("registered worker at %s in %s", w.URL, h)
	}

	fwd, err := forwarder.New(client, sim, cfg.Modules.Registry, w.DedupSize)
	if err != nil {
		return err
	}

	var attest workerapi.Attester
	switch {
	case *noAttestation:
		glog.Warning("serving shielding keys without attestation")
	case w.Attestation.UseTestIssuer:
		glog.Info("Enabling Test Attestation Token Issuer")
		attest = workerapi.TestIssuerAttester(w.Attestation.Audience)
	default:
		attest = workerapi.LauncherAttester(w.Attestation.SocketPath, w.Attestation.Audience)
	}

	var tlsConfig *tls.Config
	if w.TLSCert != "" {
		certificate, err := tls.LoadX509KeyPair(w.TLSCert, w.TLSKey)
		if err != nil {
			return err
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{certificate},
			MinVersion:   tls.VersionTLS13,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return workerapi.NewServer(sim, attest).ListenAndServe(gctx, w.Listen, tlsConfig)
	})
	g.Go(func() error {
		return fwd.Watch(gctx, sim.Shards())
	})
	return g.Wait()
}

func loadShieldingKey(path string) (*shielding.KeyPair, error) {
	b, err := os.ReadFile(path)
	if err == nil {
		return shielding.ParseKeyPairPEM(b)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	glog.Infof("generating %d bit shielding key %s", shielding.KeyBits, path)
	key, err := shielding.GenerateKeyPair(shielding.KeyBits)
	if err != nil {
		return nil, err
	}
	pemBytes, err := key.MarshalPEM()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		return nil, err
	}
	return key, nil
}

func loadSigner(v string) (*keystore.Pair, error) {
	if strings.HasPrefix(v, "//") {
		return keystore.DevPair(v)
	}
	b, err := os.ReadFile(v)
	if err == nil {
		raw, err := hex.DecodeString(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, err
		}
		return keystore.UnmarshalPair(raw)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	glog.Infof("generating signing key %s", v)
	p, err := keystore.GeneratePair()
	if err != nil {
		return nil, err
	}
	raw, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(v, []byte(hex.EncodeToString(raw)), 0600); err != nil {
		return nil, err
	}
	return p, nil
}
