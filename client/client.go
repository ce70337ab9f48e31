package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/config"
	"github.com/salrashid123/trustedcall/dispatch"
	"github.com/salrashid123/trustedcall/extrinsic"
	"github.com/salrashid123/trustedcall/keystore"
	"github.com/salrashid123/trustedcall/ledger"
	"github.com/salrashid123/trustedcall/listener"
	"github.com/salrashid123/trustedcall/registry"
	"github.com/salrashid123/trustedcall/workerapi"
)

type app struct {
	configFile string
	overrides  config.Client
	cfg        *config.Config
}

func main() {
	flag.Set("alsologtostderr", "true")
	flag.Set("v", "2")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "trustedcall-client",
		Short:        "Submit trusted calls to a worker through the ledger",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// glog refuses to log before the go flag set is parsed
			if err := flag.CommandLine.Parse(nil); err != nil {
				return err
			}
			return a.load()
		},
	}
	pf := root.PersistentFlags()
	pf.AddGoFlagSet(flag.CommandLine)
	a.bindFlags(pf)

	root.AddCommand(
		a.newAccountCmd(),
		a.listAccountsCmd(),
		a.balanceCmd(),
		a.nonceCmd(),
		a.transferCmd(),
		a.listWorkersCmd(),
		a.stateHashCmd(),
		a.listenCmd(),
		a.trustedCmd(),
	)
	return root
}

func (a *app) bindFlags(pf *pflag.FlagSet) {
	pf.StringVar(&a.configFile, "config", "", "yaml config file")
	pf.StringVar(&a.overrides.LedgerURL, "ledger", "", "ledger websocket url")
	pf.StringVar(&a.overrides.WorkerURL, "worker", "", "worker api url")
	pf.StringVar(&a.overrides.TLSCA, "tlsCA", "", "CA bundle for the worker api")
	pf.StringVar(&a.overrides.ServerName, "servername", "", "SNI for the worker api")
	pf.StringVar(&a.overrides.Signer, "xt-signer", "", "account paying for ledger transactions")
	pf.StringVar(&a.overrides.LedgerKeystoreDir, "keystore", "", "ledger account keystore directory")
}

func (a *app) load() error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	o := a.overrides
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Client.LedgerURL, o.LedgerURL)
	set(&cfg.Client.WorkerURL, o.WorkerURL)
	set(&cfg.Client.TLSCA, o.TLSCA)
	set(&cfg.Client.ServerName, o.ServerName)
	set(&cfg.Client.Signer, o.Signer)
	set(&cfg.Client.LedgerKeystoreDir, o.LedgerKeystoreDir)
	set(&cfg.Client.KeystoreDir, o.KeystoreDir)
	set(&cfg.Client.MrEnclave, o.MrEnclave)
	set(&cfg.Client.Shard, o.Shard)
	set(&cfg.Client.Root, o.Root)
	jwt.MarshalSingleStringAsArray = cfg.Client.Attestation.MarshalSingleStringAsArray
	a.cfg = cfg
	return nil
}

func (a *app) ledger(ctx context.Context) (*ledger.RPCClient, error) {
	glog.V(10).Infof("connecting to ledger at %s", a.cfg.Client.LedgerURL)
	return ledger.Dial(ctx, a.cfg.Client.LedgerURL)
}

func (a *app) ledgerStore() keystore.Provider {
	return keystore.NewLedgerStore(a.cfg.Client.LedgerKeystoreDir)
}

func (a *app) payer() (*keystore.Pair, error) {
	return keystore.Resolve(a.ledgerStore(), a.cfg.Client.Signer)
}

func (a *app) worker() (*workerapi.Client, error) {
	c := a.cfg.Client
	httpClient := &http.Client{}
	if c.TLSCA != "" {
		caCert, err := os.ReadFile(c.TLSCA)
		if err != nil {
			return nil, fmt.Errorf("reading tlsCA: %w", err)
		}
		serverCertPool := x509.NewCertPool()
		serverCertPool.AppendCertsFromPEM(caCert)
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				ServerName: c.ServerName,
				RootCAs:    serverCertPool,
				MinVersion: tls.VersionTLS13,
			},
		}
	}
	var verifier *workerapi.Verifier
	if c.Attestation.Verify {
		verifier = &workerapi.Verifier{
			JWKURL:         c.Attestation.JWKURL,
			Issuer:         c.Attestation.Issuer,
			Audience:       c.Attestation.Audience,
			ImageReference: c.Attestation.ImageReference,
			AllowDebug:     c.Attestation.AllowDebug,
		}
	}
	return workerapi.NewClient(c.WorkerURL, httpClient, verifier), nil
}

func (a *app) dispatcher(ctx context.Context) (*dispatch.Dispatcher, func(), error) {
	client, err := a.ledger(ctx)
	if err != nil {
		return nil, nil, err
	}
	worker, err := a.worker()
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return dispatch.New(client, worker, a.cfg.Modules.Registry), func() { client.Close() }, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 || v.BitLen() > 128 {
		return nil, fmt.Errorf("%w: %q is not a u128 amount", common.ErrEncoding, s)
	}
	return v, nil
}

func parseNonce(v dispatch.Value) (uint32, error) {
	if !v.Found {
		return 0, nil
	}
	if !v.Value.IsUint64() || v.Value.Uint64() > math.MaxUint32 {
		return 0, fmt.Errorf("%w: nonce %s out of range", common.ErrValueDecode, v.Value)
	}
	return uint32(v.Value.Uint64()), nil
}

func (a *app) newAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-account",
		Short: "generate a ledger account key in the keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.ledgerStore().Generate()
			if err != nil {
				return err
			}
			fmt.Println(keystore.SS58Encode(p.Public()))
			return nil
		},
	}
}

func (a *app) listAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-accounts",
		Short: "list ledger accounts in the keystore",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printAccounts(a.ledgerStore())
		},
	}
}

func printAccounts(p keystore.Provider) error {
	accounts, err := p.List()
	if err != nil {
		return err
	}
	fmt.Printf("number of accounts in keystore: %d\n", len(accounts))
	for _, id := range accounts {
		fmt.Println(keystore.SS58Encode(id))
	}
	return nil
}

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "free balance of a ledger account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := a.accountInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(info.Free)
			return nil
		},
	}
}

func (a *app) nonceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nonce <account>",
		Short: "transaction nonce of a ledger account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := a.accountInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(info.Nonce)
			return nil
		},
	}
}

func (a *app) accountInfo(ctx context.Context, account string) (ledger.AccountInfo, error) {
	id, err := keystore.AccountFromString(account)
	if err != nil {
		return ledger.AccountInfo{}, err
	}
	client, err := a.ledger(ctx)
	if err != nil {
		return ledger.AccountInfo{}, err
	}
	defer client.Close()
	return ledger.Account(ctx, client, id)
}

func (a *app) listWorkersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-workers",
		Short: "list workers registered on the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.ledger(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			workers, err := registry.ListWorkers(ctx, client)
			if err != nil {
				return err
			}
			fmt.Printf("number of workers registered: %d\n", len(workers))
			for i, w := range workers {
				fmt.Printf("Enclave %d\n   AccountId: %s\n   MRENCLAVE: %s\n   URL: %s\n", i, keystore.SS58Encode(w.PubKey), w.MrEnclave, w.URL)
			}
			return nil
		},
	}
}

func (a *app) stateHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state-hash",
		Short: "latest state hash reported by a worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.ledger(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			h, ok, err := registry.LatestStateHash(ctx, client)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("no state hash reported yet")
				return nil
			}
			fmt.Println(common.HexEncode(h))
			return nil
		},
	}
}

func (a *app) transferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <from> <to> <amount>",
		Short: "transfer ledger funds",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from, err := keystore.Resolve(a.ledgerStore(), args[0])
			if err != nil {
				return err
			}
			to, err := keystore.AccountFromString(args[1])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			call, err := ledger.TransferCall(a.cfg.Modules.Balances, a.cfg.Modules.TransferFunction, to, amount)
			if err != nil {
				return err
			}
			client, err := a.ledger(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			h, err := extrinsic.NewSubmitter(client, a.cfg.Modules.Registry).SubmitCall(ctx, call, from)
			if err != nil {
				return err
			}
			fmt.Printf("transfer finalized in %s\n", h)
			return nil
		},
	}
}

func (a *app) listenCmd() *cobra.Command {
	var events uint64
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "print registry events as they are finalized",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := a.ledger(ctx)
			if err != nil {
				return err
			}
			defer client.Close()
			l := listener.New(client, a.cfg.Modules.Registry)
			if err := l.Start(ctx); err != nil {
				return err
			}
			defer l.Close()
			n, err := l.Count(ctx, events)
			if err != nil && ctx.Err() == nil {
				return err
			}
			fmt.Printf("received %d registry events\n", n)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&events, "events", 0, "stop after this many registry events, 0 listens until interrupted")
	return cmd
}
