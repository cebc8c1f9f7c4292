package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashport-labs/apikey-gateway/api"
	"github.com/hashport-labs/apikey-gateway/api/adminapi"
	"github.com/hashport-labs/apikey-gateway/api/partnerapi"
	"github.com/hashport-labs/apikey-gateway/api/verifyapi"
	"github.com/hashport-labs/apikey-gateway/common"
	"github.com/hashport-labs/apikey-gateway/gateway"
	"github.com/hashport-labs/apikey-gateway/httpserver"
	"github.com/hashport-labs/apikey-gateway/keymanager"
	"github.com/hashport-labs/apikey-gateway/kms"
	"github.com/hashport-labs/apikey-gateway/routeconfig"
	"github.com/hashport-labs/apikey-gateway/securegate"
	"github.com/hashport-labs/apikey-gateway/storage"
	"github.com/hashport-labs/apikey-gateway/token"
	"github.com/hashport-labs/apikey-gateway/walletauth"
	"github.com/urfave/cli/v2"
)

var flags []cli.Flag = []cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:  "metrics-addr",
		Value: "127.0.0.1:8090",
		Usage: "address to listen on for Prometheus metrics",
	},
	&cli.StringFlag{
		Name:  "store-uri",
		Value: "memory://",
		Usage: "store backend URI: memory:// or postgres://...",
	},
	&cli.StringFlag{
		Name:    "jwt-secret",
		Value:   "",
		Usage:   "HMAC signing secret for portal tokens, at least 32 bytes",
		EnvVars: []string{"GATEWAY_JWT_SECRET"},
	},
	&cli.StringFlag{
		Name:  "kms-type",
		Value: "local",
		Usage: "KMS backend: 'local', 'vault' or 'aws'",
	},
	&cli.StringFlag{
		Name:    "local-kms-master-key",
		Value:   "",
		Usage:   "hex-encoded 32-byte master key for the local KMS backend",
		EnvVars: []string{"GATEWAY_LOCAL_KMS_MASTER_KEY"},
	},
	&cli.StringFlag{
		Name:  "local-kms-key-id",
		Value: "local-dev",
		Usage: "key id recorded on rows wrapped by the local KMS backend",
	},
	&cli.StringFlag{
		Name:    "vault-addr",
		Value:   "",
		Usage:   "Vault server address (required if kms-type is 'vault')",
		EnvVars: []string{"VAULT_ADDR"},
	},
	&cli.StringFlag{
		Name:    "vault-token",
		Value:   "",
		Usage:   "Vault auth token",
		EnvVars: []string{"VAULT_TOKEN"},
	},
	&cli.StringFlag{
		Name:  "vault-transit-mount",
		Value: "transit",
		Usage: "Vault transit mount path",
	},
	&cli.StringFlag{
		Name:  "vault-transit-key",
		Value: "apikey-gateway",
		Usage: "Vault transit key name",
	},
	&cli.StringFlag{
		Name:  "aws-region",
		Value: "us-east-1",
		Usage: "AWS region for the aws KMS backend",
	},
	&cli.StringFlag{
		Name:  "aws-kms-key-id",
		Value: "",
		Usage: "AWS KMS key id or ARN (required if kms-type is 'aws')",
	},
	&cli.Int64Flag{
		Name:  "window-seconds",
		Value: gateway.DefaultWindowSeconds,
		Usage: "fixed rate-limit window size in seconds",
	},
	&cli.BoolFlag{
		Name:  "bind-client",
		Value: false,
		Usage: "enforce client address and user-agent binding on secure tokens",
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
	&cli.StringFlag{
		Name:  "log-service",
		Value: common.PackageName,
		Usage: "add 'service' tag to logs",
	},
	&cli.BoolFlag{
		Name:  "pprof",
		Value: false,
		Usage: "enable pprof debug endpoint",
	},
	&cli.Int64Flag{
		Name:  "drain-seconds",
		Value: 45,
		Usage: "seconds to wait in drain HTTP request",
	},
}

func main() {
	app := &cli.App{
		Name:  "gateway",
		Usage: "Serve the API key issuance and access verification gateway",
		Flags: flags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			metricsAddr := cCtx.String("metrics-addr")
			storeURI := cCtx.String("store-uri")
			jwtSecret := cCtx.String("jwt-secret")
			windowSeconds := cCtx.Int64("window-seconds")
			bindClient := cCtx.Bool("bind-client")
			enablePprof := cCtx.Bool("pprof")
			drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

			logger := common.SetupLogger(&common.LoggingOpts{
				Debug:   cCtx.Bool("log-debug"),
				JSON:    cCtx.Bool("log-json"),
				Service: cCtx.String("log-service"),
				Version: common.Version,
			})

			if jwtSecret == "" {
				logger.Error("jwt-secret is required")
				return errors.New("jwt-secret is required")
			}

			ctx := context.Background()

			logger.Info("Connecting to store", "uri", storeURI)
			store, err := storage.Factory(ctx, storeURI)
			if err != nil {
				logger.Error("Failed to create store", "err", err)
				return err
			}
			defer store.Close()

			kmsAdapter, err := kms.AdapterFor(kms.Config{
				Type:              cCtx.String("kms-type"),
				LocalMasterKeyHex: cCtx.String("local-kms-master-key"),
				LocalKeyID:        cCtx.String("local-kms-key-id"),
				VaultAddress:      cCtx.String("vault-addr"),
				VaultToken:        cCtx.String("vault-token"),
				VaultMountPath:    cCtx.String("vault-transit-mount"),
				VaultKeyName:      cCtx.String("vault-transit-key"),
				AWSRegion:         cCtx.String("aws-region"),
				AWSKeyID:          cCtx.String("aws-kms-key-id"),
			})
			if err != nil {
				logger.Error("Failed to create KMS adapter", "err", err)
				return err
			}
			logger.Info("KMS adapter initialized", "keyId", kmsAdapter.KeyID())

			tokens, err := token.NewIssuer(token.IssuerConfig{Secret: []byte(jwtSecret)})
			if err != nil {
				logger.Error("Failed to create token issuer", "err", err)
				return err
			}

			keys, err := keymanager.NewManager(store, kmsAdapter, logger)
			if err != nil {
				logger.Error("Failed to create key manager", "err", err)
				return err
			}
			auth, err := walletauth.NewAuthenticator(store, tokens, logger)
			if err != nil {
				logger.Error("Failed to create authenticator", "err", err)
				return err
			}
			gw, err := gateway.New(store, keys, routeconfig.Default(), logger, windowSeconds)
			if err != nil {
				logger.Error("Failed to create gateway", "err", err)
				return err
			}

			sessions := api.NewSessionAuth(tokens, logger)
			gate := securegate.New(tokens, store, logger, bindClient)

			cfg := &httpserver.HTTPServerConfig{
				ListenAddr:               listenAddr,
				MetricsAddr:              metricsAddr,
				Log:                      logger,
				EnablePprof:              enablePprof,
				DrainDuration:            drainDuration,
				GracefulShutdownDuration: 30 * time.Second,
				ReadTimeout:              60 * time.Second,
				WriteTimeout:             30 * time.Second,
				HealthCheck:              store.Ping,
			}

			server, err := httpserver.New(cfg,
				partnerapi.New(store, keys, auth, sessions, gate, logger),
				adminapi.New(store, keys, auth, sessions, logger),
				verifyapi.New(gw, logger),
			)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server")
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
