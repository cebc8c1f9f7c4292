// Command seed initializes the tier plans and optionally registers a master
// admin wallet. It is idempotent and safe to rerun on deploy.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hashport-labs/apikey-gateway/common"
	"github.com/hashport-labs/apikey-gateway/interfaces"
	"github.com/hashport-labs/apikey-gateway/routeconfig"
	"github.com/hashport-labs/apikey-gateway/storage"
	"github.com/hashport-labs/apikey-gateway/walletauth"
	"github.com/urfave/cli/v2"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "store-uri",
		Value: "memory://",
		Usage: "store backend URI: memory:// or postgres://...",
	},
	&cli.StringFlag{
		Name:  "admin-evm-wallet",
		Value: "",
		Usage: "EVM wallet to register as master admin",
	},
	&cli.StringFlag{
		Name:  "admin-hedera-wallet",
		Value: "",
		Usage: "Hedera account to register as master admin",
	},
	&cli.BoolFlag{
		Name:  "log-json",
		Value: false,
		Usage: "log in JSON format",
	},
	&cli.BoolFlag{
		Name:  "log-debug",
		Value: false,
		Usage: "log debug messages",
	},
}

var tierPlans = []*interfaces.TierPlan{
	{
		Name:         interfaces.TierBasic,
		RequestLimit: 200,
		Features:     []string{routeconfig.ScopeFaucetClaim, routeconfig.ScopeFaucetCheckEVM},
	},
	{
		Name:         interfaces.TierAdvanced,
		RequestLimit: 5000,
		Features: []string{
			routeconfig.ScopeFaucetClaim,
			routeconfig.ScopeFaucetCheckEVM,
			routeconfig.ScopeFaucetCheckHedera,
			routeconfig.ScopeFaucetTransactions,
		},
	},
	{
		Name:         interfaces.TierEnterprise,
		RequestLimit: 100000,
		Features: []string{
			routeconfig.ScopeAutoFaucetDrip,
			routeconfig.ScopeFaucetClaim,
			routeconfig.ScopeFaucetCheckEVM,
			routeconfig.ScopeFaucetCheckHedera,
			routeconfig.ScopeFaucetTransactions,
			routeconfig.ScopePassportScore,
		},
	},
}

func main() {
	app := &cli.App{
		Name:  "seed",
		Usage: "Seed tier plans and the master admin wallet",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   cCtx.Bool("log-debug"),
				JSON:    cCtx.Bool("log-json"),
				Service: common.PackageName + "-seed",
				Version: common.Version,
			})

			ctx := context.Background()
			store, err := storage.Factory(ctx, cCtx.String("store-uri"))
			if err != nil {
				logger.Error("Failed to create store", "err", err)
				return err
			}
			defer store.Close()

			for _, plan := range tierPlans {
				if err := store.Tiers().Upsert(ctx, plan); err != nil {
					logger.Error("Failed to upsert tier plan", "err", err, "tier", plan.Name)
					return err
				}
				logger.Info("Tier plan seeded", "tier", plan.Name, "requestLimit", plan.RequestLimit)
			}

			evm := cCtx.String("admin-evm-wallet")
			hedera := cCtx.String("admin-hedera-wallet")
			if evm == "" && hedera == "" {
				logger.Info("No admin wallet given, skipping admin seed")
				return nil
			}

			admin := &interfaces.AdminAccount{
				Role:      "MASTER",
				CreatedAt: time.Now(),
			}
			if evm != "" {
				normalized, err := walletauth.NormalizeWallet(interfaces.WalletEVM, evm)
				if err != nil {
					logger.Error("Invalid admin EVM wallet", "err", err)
					return err
				}
				admin.WalletEVM = &normalized
			}
			if hedera != "" {
				normalized, err := walletauth.NormalizeWallet(interfaces.WalletHedera, hedera)
				if err != nil {
					logger.Error("Invalid admin Hedera wallet", "err", err)
					return err
				}
				admin.WalletHedera = &normalized
			}

			// Reuse the existing admin row when one of the wallets is already
			// registered, so reruns do not multiply admins.
			existing, err := store.Admins().FindByWallet(ctx, evm, hedera)
			switch {
			case err == nil:
				admin.ID = existing.ID
				admin.CreatedAt = existing.CreatedAt
			case errors.Is(err, interfaces.ErrNotFound):
				admin.ID = uuid.NewString()
			default:
				logger.Error("Failed to look up admin", "err", err)
				return err
			}

			if err := store.Admins().Upsert(ctx, admin); err != nil {
				logger.Error("Failed to upsert admin", "err", err)
				return err
			}
			logger.Info("Admin seeded", "adminId", admin.ID)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
