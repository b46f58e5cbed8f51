package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/elys-network/earn/internal/allowance"
	"github.com/elys-network/earn/internal/balance"
	"github.com/elys-network/earn/internal/config"
	"github.com/elys-network/earn/internal/earn"
	"github.com/elys-network/earn/internal/executor"
	"github.com/elys-network/earn/internal/metrics"
	"github.com/elys-network/earn/internal/notify"
	"github.com/elys-network/earn/internal/permit"
	"github.com/elys-network/earn/internal/registry"
	"github.com/elys-network/earn/internal/session"
	"github.com/elys-network/earn/internal/state"
	"github.com/elys-network/earn/internal/types"
	"github.com/elys-network/earn/internal/vault"
	"github.com/elys-network/earn/internal/wallet"
)

// app holds the wired components of one session.
type app struct {
	client       *ethclient.Client
	registry     *prometheus.Registry
	recorder     state.Recorder
	emitter      *notify.Emitter
	orchestrator *earn.Orchestrator
}

// newApp connects to the node and the optional database and wires the orchestrator.
// config.LoadConfig must have run.
func newApp(ctx context.Context) (*app, error) {
	vaults, err := config.LoadVaults(config.VaultsFile)
	if err != nil {
		return nil, err
	}

	client, err := ethclient.DialContext(ctx, config.EthRPC)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", config.EthRPC, err)
	}
	log.Info().Str("endpoint", config.EthRPC).Msg("Connected to the node")

	a := &app{client: client, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	indicators := metrics.NewPromIndicators(a.registry)

	opts := wallet.DefaultOptions()
	opts.ConfirmationTimeout = config.TxTimeout
	signer, err := wallet.NewSigningClient(ctx, client, wallet.OpenKeystore(config.KeystoreDir), config.AccountAddress, config.AccountPassword, opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	contracts, err := vault.NewVaultClient(client, config.RPCRateLimit, indicators)
	if err != nil {
		a.Close()
		return nil, err
	}

	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if dbCfg.Enabled() {
		if err := state.InitDB(dbCfg); err != nil {
			a.Close()
			return nil, err
		}
		if err := state.EnsureSchema(); err != nil {
			a.Close()
			return nil, err
		}
		a.recorder = state.DBRecorder{}
	} else {
		log.Info().Msg("No database configured, keeping the operation log in memory")
		a.recorder = state.NewMemoryRecorder(0)
	}

	store := session.NewStore(types.NewEarnState(vaults))
	tracker := allowance.NewTracker(contracts, store)
	syncer := balance.NewSynchronizer(contracts, store, signer.Address())

	a.emitter = notify.NewEmitter()
	a.emitter.Subscribe(notify.ChannelEarnDeposit, func(m notify.Message) {
		log.Info().Str("channel", m.Channel).Msg(m.Text)
	})

	var domainChainID int64
	if config.UseMainnetFork {
		domainChainID = config.ForkChainID
		log.Warn().Int64("chainId", domainChainID).Msg("Mainnet fork mode: fixed gas limits and fork chain id in permits")
	}
	permits := permit.NewSigner(signer, signer, contracts, store, config.ApprovalTarget, domainChainID)

	exec, err := executor.New(executor.Dependencies{
		Submitter:      signer,
		Builder:        contracts,
		Store:          store,
		Refresher:      syncer,
		Allowances:     tracker,
		Publisher:      a.emitter,
		Recorder:       a.recorder,
		Metrics:        indicators,
		ApprovalTarget: config.ApprovalTarget,
		Gas: executor.GasLimits{
			Deposit: config.DepositGasLimit(),
			Approve: config.ApproveGasLimit(),
		},
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.orchestrator, err = earn.New(earn.Dependencies{
		Registry:       registry.New(vaults),
		Store:          store,
		Allowances:     tracker,
		Permits:        permits,
		Executor:       exec,
		Balances:       syncer,
		Account:        signer.Address(),
		ApprovalTarget: config.ApprovalTarget,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	log.Info().
		Str("account", signer.Address().Hex()).
		Int("vaults", len(vaults)).
		Msg("Earn orchestrator ready")
	return a, nil
}

// Close waits for pending notifications and releases connections.
func (a *app) Close() {
	if a.emitter != nil {
		a.emitter.Wait()
	}
	state.CloseDB()
	a.client.Close()
}
