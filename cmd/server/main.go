package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/redis/go-redis/v9"

	"github.com/better-wallet/custody-core/internal/amount"
	"github.com/better-wallet/custody-core/internal/api"
	"github.com/better-wallet/custody-core/internal/chains/bitcoin"
	"github.com/better-wallet/custody-core/internal/chains/ethereum"
	"github.com/better-wallet/custody-core/internal/chains/tron"
	"github.com/better-wallet/custody-core/internal/config"
	"github.com/better-wallet/custody-core/internal/consumer"
	"github.com/better-wallet/custody-core/internal/eth"
	"github.com/better-wallet/custody-core/internal/keyexec"
	"github.com/better-wallet/custody-core/internal/logger"
	"github.com/better-wallet/custody-core/internal/publisher"
	"github.com/better-wallet/custody-core/internal/storage"
	"github.com/better-wallet/custody-core/internal/walletcmd"
	"github.com/better-wallet/custody-core/internal/withdrawal"
	"github.com/better-wallet/custody-core/pkg/types"
)

const (
	rateLimitBurst  = 5
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(ctx, cfg.PostgresDSN)
	if err != nil {
		fatal("failed to connect to database", err)
	}
	defer store.Close()
	slog.Info("connected to database")

	kms, err := keyexec.NewKMSProvider(ctx, cfg.KMSConfig())
	if err != nil {
		fatal("failed to initialize KMS provider", err)
	}
	slog.Info("initialized KMS provider", "provider", kms.Provider())

	secretRepo := storage.NewSealedSecretRepository(store)
	walletRepo := storage.NewWalletRepository(store)
	keys := keyexec.NewHDKeyService(secretRepo, kms)

	btcParams, err := bitcoin.NetParams(cfg.BitcoinNetwork)
	if err != nil {
		fatal("invalid bitcoin network", err)
	}

	adapters, closeNodes := buildAdapters(ctx, cfg, keys, btcParams)
	defer closeNodes()

	statusPublisher, closePublisher := buildPublisher(cfg)
	defer closePublisher()

	ledger := storage.NewLedgerRepository(store)
	svc := withdrawal.NewService(ledger, statusPublisher, adapters...)

	withdrawals := consumer.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.WithdrawalRequestTopic,
		consumer.NewHandler(svc, walletRepo).Handle)
	defer withdrawals.Close()

	manager := walletcmd.NewSealedMnemonicKeyManager(kms, secretRepo, walletRepo, keys, btcParams)
	// separate group so the two readers do not rebalance each other
	commands := consumer.NewKafkaConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID+"-wallets", cfg.WalletCommandTopic,
		walletcmd.NewHandler(manager, manager).HandleMessage)
	defer commands.Close()

	server := api.NewServer(cfg.Port, store)

	errs := make(chan error, 3)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	go func() { errs <- withdrawals.Run(ctx) }()
	go func() { errs <- commands.Run(ctx) }()

	slog.Info("custody core started",
		"request_topic", cfg.WithdrawalRequestTopic,
		"command_topic", cfg.WalletCommandTopic,
		"status_publisher", cfg.StatusPublisher,
	)

	select {
	case err := <-errs:
		if err != nil {
			slog.Error("component stopped", "error", err)
		}
		stop()
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// buildAdapters connects to each chain node and wraps its adapter in the
// per-chain rate limit. The returned func closes the node connections.
func buildAdapters(ctx context.Context, cfg *config.Config, keys keyexec.KeyDeriver, btcParams *chaincfg.Params) ([]withdrawal.Adapter, func()) {
	ethClient, err := eth.NewClient(ctx, cfg.EthRPCURL)
	if err != nil {
		fatal("failed to connect to ethereum node", err)
	}
	if cfg.USDTERC20Contract != "" {
		precision, err := amount.Precision(types.AssetUSDTERC20)
		if err != nil {
			fatal("missing USDT-ERC20 precision", err)
		}
		if err := ethereum.VerifyTokenDecimals(ctx, ethClient, cfg.USDTERC20Contract, uint8(precision)); err != nil {
			fatal("USDT-ERC20 contract check failed", err)
		}
	}
	ethAdapter, err := ethereum.NewAdapter(ethClient, keys, cfg.USDTERC20Contract)
	if err != nil {
		fatal("failed to create ethereum adapter", err)
	}

	btcNode, err := bitcoin.NewRPCNode(cfg.BitcoinRPCHost, cfg.BitcoinRPCUser, cfg.BitcoinRPCPass)
	if err != nil {
		fatal("failed to create bitcoin rpc client", err)
	}
	btcAdapter := bitcoin.NewAdapter(btcNode, keys, btcParams)

	tronClient, err := tron.Dial(cfg.TronGRPCURL, cfg.TronAPIKey)
	if err != nil {
		fatal("failed to connect to tron node", err)
	}
	tronAdapter, err := tron.NewAdapter(tronClient, keys, cfg.USDTTRC20Contract, cfg.TronFeeLimit)
	if err != nil {
		fatal("failed to create tron adapter", err)
	}

	adapters := []withdrawal.Adapter{
		withdrawal.NewRateLimitedAdapter(btcAdapter, cfg.ChainRateLimitRPS, rateLimitBurst),
		withdrawal.NewRateLimitedAdapter(ethAdapter, cfg.ChainRateLimitRPS, rateLimitBurst),
		withdrawal.NewRateLimitedAdapter(tronAdapter, cfg.ChainRateLimitRPS, rateLimitBurst),
	}
	return adapters, func() {
		ethClient.Close()
		btcNode.Close()
		tronClient.Stop()
	}
}

func buildPublisher(cfg *config.Config) (withdrawal.StatusPublisher, func()) {
	if cfg.StatusPublisher == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return publisher.NewRedisPublisher(client, cfg.WithdrawalStatusTopic, cfg.RedisStreamMaxLen), func() {
			if err := client.Close(); err != nil {
				slog.Error("failed to close redis client", "error", err)
			}
		}
	}

	p := publisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.WithdrawalStatusTopic)
	return p, func() {
		if err := p.Close(); err != nil {
			slog.Error("failed to close kafka writer", "error", err)
		}
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
