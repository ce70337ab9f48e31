package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/dispatch"
	"github.com/salrashid123/trustedcall/keystore"
	"github.com/salrashid123/trustedcall/trustedop"
)

func (a *app) trustedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trusted",
		Short: "operations executed by the worker inside its boundary",
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&a.overrides.MrEnclave, "mrenclave", "", "base58 mrenclave of the target worker")
	pf.StringVar(&a.overrides.Shard, "shard", "", "base58 shard, defaults to the mrenclave")
	pf.StringVar(&a.overrides.KeystoreDir, "trusted-keystore", "", "trusted account keystore directory")

	cmd.AddCommand(
		a.trustedNewAccountCmd(),
		a.trustedListAccountsCmd(),
		a.trustedTransferCmd(),
		a.trustedSetBalanceCmd(),
		a.trustedBalanceCmd(),
		a.trustedNonceCmd(),
	)
	return cmd
}

func (a *app) identifiers() (common.MrEnclave, common.ShardIdentifier, error) {
	return common.ParseIdentifiers(a.cfg.Client.MrEnclave, a.cfg.Client.Shard)
}

func (a *app) trustedStore(shard common.ShardIdentifier) keystore.Provider {
	return keystore.NewFileStore(a.cfg.Client.KeystoreDir, shard)
}

func (a *app) trustedNewAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new-account",
		Short: "generate a trusted account key for the shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, shard, err := a.identifiers()
			if err != nil {
				return err
			}
			p, err := a.trustedStore(shard).Generate()
			if err != nil {
				return err
			}
			fmt.Println(keystore.SS58Encode(p.Public()))
			return nil
		},
	}
}

func (a *app) trustedListAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-accounts",
		Short: "list trusted accounts of the shard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, shard, err := a.identifiers()
			if err != nil {
				return err
			}
			return printAccounts(a.trustedStore(shard))
		},
	}
}

func (a *app) trustedTransferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <from> <to> <amount>",
		Short: "transfer funds between trusted accounts",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, shard, err := a.identifiers()
			if err != nil {
				return err
			}
			from, err := keystore.Resolve(a.trustedStore(shard), args[0])
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
			return a.trustedCall(cmd.Context(), trustedop.BalanceTransfer{From: from.Public(), To: to, Amount: amount}, from)
		},
	}
}

func (a *app) trustedSetBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-balance <account> <free> [reserved]",
		Short: "set the balance of a trusted account, signed by the shard root",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, shard, err := a.identifiers()
			if err != nil {
				return err
			}
			root, err := keystore.Resolve(a.trustedStore(shard), a.cfg.Client.Root)
			if err != nil {
				return err
			}
			who, err := keystore.AccountFromString(args[0])
			if err != nil {
				return err
			}
			free, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			reserved := new(big.Int)
			if len(args) == 3 {
				if reserved, err = parseAmount(args[2]); err != nil {
					return err
				}
			}
			return a.trustedCall(cmd.Context(), trustedop.BalanceSetBalance{Who: who, Free: free, Reserved: reserved}, root)
		},
	}
}

// trustedCall signs call with the signer's next trusted nonce and dispatches it.
func (a *app) trustedCall(ctx context.Context, call trustedop.TrustedCall, signer *keystore.Pair) error {
	m, shard, err := a.identifiers()
	if err != nil {
		return err
	}
	payer, err := a.payer()
	if err != nil {
		return err
	}
	d, closer, err := a.dispatcher(ctx)
	if err != nil {
		return err
	}
	defer closer()

	nonce, err := a.trustedNonce(ctx, d, signer, shard)
	if err != nil {
		return err
	}
	tc, err := trustedop.Sign(call, signer, nonce, m, shard)
	if err != nil {
		return err
	}
	res, err := d.Call(ctx, tc, payer)
	if err != nil {
		return err
	}
	fmt.Printf("%s finalized in %s\n", call, res.TxHash)
	fmt.Printf("confirmed by %s call hash %s\n", keystore.SS58Encode(res.Reporter), res.Reported)
	if !res.Match {
		fmt.Printf("expected call hash %s\n", res.Expected)
	}
	return nil
}

func (a *app) trustedNonce(ctx context.Context, d *dispatch.Dispatcher, signer *keystore.Pair, shard common.ShardIdentifier) (uint32, error) {
	g, err := trustedop.SignGetter(trustedop.Nonce(signer.Public()), signer)
	if err != nil {
		return 0, err
	}
	v, err := d.Get(ctx, g, shard)
	if err != nil {
		return 0, err
	}
	return parseNonce(v)
}

func (a *app) trustedBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "free balance of a trusted account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.trustedGet(cmd.Context(), args[0], trustedop.FreeBalance)
		},
	}
}

func (a *app) trustedNonceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nonce <account>",
		Short: "next trusted nonce of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.trustedGet(cmd.Context(), args[0], trustedop.Nonce)
		},
	}
}

// trustedGet queries the worker with a getter signed by the account itself.
func (a *app) trustedGet(ctx context.Context, account string, getter func(common.AccountID) trustedop.TrustedGetter) error {
	_, shard, err := a.identifiers()
	if err != nil {
		return err
	}
	who, err := keystore.Resolve(a.trustedStore(shard), account)
	if err != nil {
		return err
	}
	g, err := trustedop.SignGetter(getter(who.Public()), who)
	if err != nil {
		return err
	}
	worker, err := a.worker()
	if err != nil {
		return err
	}
	// getters never reach the ledger
	v, err := dispatch.New(nil, worker, a.cfg.Modules.Registry).Get(ctx, g, shard)
	if err != nil {
		return err
	}
	if !v.Found {
		glog.V(2).Infof("no value held for %s", keystore.SS58Encode(who.Public()))
		fmt.Println(0)
		return nil
	}
	fmt.Println(v.Value)
	return nil
}
