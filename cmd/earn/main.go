package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/elys-network/earn/internal/config"
	"github.com/elys-network/earn/internal/logger"
	"github.com/elys-network/earn/internal/scheduler"
	"github.com/elys-network/earn/internal/state"
	"github.com/elys-network/earn/internal/utils"
	"github.com/elys-network/earn/internal/web"
)

// main is the entry point for the earn service.
func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "earn",
		Short:         "Deposit into, withdraw from and claim rewards of yield vaults.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil {
				log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
			}
			logger.Initialize(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
		},
	}

	root.AddCommand(serveCmd())
	root.AddCommand(vaultsCmd())
	root.AddCommand(syncCmd())
	root.AddCommand(resetDBCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the periodic balance sync.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func vaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vaults",
		Short: "Print the configured vaults.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vaults, err := config.LoadVaults(os.Getenv("VAULTS_FILE"))
			if err != nil {
				return err
			}
			for _, v := range vaults {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s  asset=%s decimals=%d  %s -> %s\n",
					v.Asset.Symbol, v.VaultAddress.Hex(), v.Asset.ContractAddress.Hex(), v.Asset.Decimals,
					time.Unix(v.PoolStartTime, 0).UTC().Format(time.DateOnly),
					time.Unix(v.PoolEndTime, 0).UTC().Format(time.DateOnly))
			}
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refresh locked and earned values of every vault once and print them.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadConfig(); err != nil {
				return err
			}
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			syncErr := scheduler.New(cmd.Context(), a.orchestrator, a.recorder).RunNow(cmd.Context())
			if syncErr != nil {
				log.Warn().Err(syncErr).Msg("Sync finished with errors")
			}

			type row struct {
				Symbol         string `json:"symbol"`
				Vault          string `json:"vault"`
				UserDeposited  string `json:"user_deposited"`
				TotalDeposited string `json:"total_deposited"`
				PendingRewards string `json:"pending_rewards"`
			}
			rows := make([]row, 0)
			for _, v := range a.orchestrator.Vaults() {
				rows = append(rows, row{
					Symbol:         v.Asset.Symbol,
					Vault:          v.VaultAddress.Hex(),
					UserDeposited:  formatUnits(v.Balances.UserDeposited, v.Asset.Decimals),
					TotalDeposited: formatUnits(v.Balances.TotalDeposited, v.Asset.Decimals),
					PendingRewards: formatUnits(v.Balances.PendingRewards, rewardDecimals),
				})
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rows); err != nil {
				return err
			}
			return syncErr
		},
	}
}

func resetDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-db",
		Short: "Drop and recreate the operation log and balance history tables.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDatabaseConfig()
			dbCfg := state.DBConfig{
				Host: config.DBHost, Port: config.DBPort,
				User: config.DBUser, Password: config.DBPassword,
				DBName: config.DBName, SSLMode: config.DBSSLMode,
			}
			if !dbCfg.Enabled() {
				return errors.New("DB_HOST and DB_NAME must be set to reset the database")
			}

			log.Info().Str("host", dbCfg.Host).Int("port", dbCfg.Port).Str("dbname", dbCfg.DBName).Msg("Connecting to database")
			if err := state.InitDB(dbCfg); err != nil {
				return err
			}
			defer state.CloseDB()

			if err := state.ResetSchema(); err != nil {
				return err
			}
			log.Info().Msg("Database reset complete!")
			return nil
		},
	}
}

func serve(ctx context.Context) error {
	if err := config.LoadConfig(); err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	log.Info().Msg("Earn orchestrator starting...")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New(ctx, a.orchestrator, a.recorder)
	if err := sched.Register(config.SyncSchedule); err != nil {
		return err
	}
	if err := sched.RunNow(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial sync finished with errors")
	}
	sched.Start()
	defer sched.Stop()

	webServer := web.NewWebServer(a.orchestrator, a.recorder, web.Options{
		Host:            config.WebHost,
		Port:            config.WebPort,
		APIToken:        config.WebAPIToken,
		AllowedOrigins:  config.WebAllowedOrigins,
		TxTimeout:       config.TxTimeout,
		Gatherer:        a.registry,
		DatabaseEnabled: state.DB != nil,
	})
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("host", config.WebHost).Str("port", config.WebPort).Msg("Starting earn API")
		errCh <- webServer.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Web server failed")
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return webServer.Shutdown(shutdownCtx)
}

// rewardDecimals is the precision of every reward token in the vault set.
const rewardDecimals = 18

func formatUnits(amount sdkmath.Int, decimals int) string {
	s, err := utils.FormatUnits(amount, decimals)
	if err != nil {
		return amount.String()
	}
	return s
}
