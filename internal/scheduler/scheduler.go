// Package scheduler refreshes vault balances on a cron schedule and records each round.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/elys-network/earn/internal/logger"
	"github.com/elys-network/earn/internal/state"
	"github.com/elys-network/earn/internal/types"
)

// Syncer is the part of the orchestrator the scheduler drives.
type Syncer interface {
	Sync(ctx context.Context) error
	State() types.EarnState
	Account() common.Address
}

// Scheduler manages the periodic sync task.
type Scheduler struct {
	cron     *cron.Cron
	syncer   Syncer
	recorder state.Recorder
	ctx      context.Context
	log      zerolog.Logger
}

// New creates a scheduler. A sync round still running when the next one is due is skipped.
func New(ctx context.Context, syncer Syncer, recorder state.Recorder) *Scheduler {
	log := logger.GetForComponent("scheduler")
	if recorder == nil {
		recorder = state.NewMemoryRecorder(0)
	}
	cronLog := cronLogger{log: log}
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(cronLog), cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog))),
		syncer:   syncer,
		recorder: recorder,
		ctx:      ctx,
		log:      log,
	}
}

// Register adds the sync task under the given cron spec, e.g. "@every 1m" or "*/5 * * * *".
func (s *Scheduler) Register(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.syncTask); err != nil {
		return fmt.Errorf("register sync task %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops the cron and waits for a running round to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// RunNow performs one sync round immediately.
func (s *Scheduler) RunNow(ctx context.Context) error {
	syncErr := s.syncer.Sync(ctx)

	// Vaults whose refresh failed still hold their previous snapshot, so the round is recorded either way.
	snapshots := s.syncer.State().Snapshots
	recordErr := s.recorder.RecordSnapshots(context.WithoutCancel(ctx), s.syncer.Account(), snapshots)
	if recordErr != nil {
		recordErr = fmt.Errorf("record balance snapshots: %w", recordErr)
	}
	return errors.Join(syncErr, recordErr)
}

func (s *Scheduler) syncTask() {
	s.log.Debug().Msg("Running scheduled sync")
	if err := s.RunNow(s.ctx); err != nil {
		s.log.Warn().Err(err).Msg("Scheduled sync finished with errors")
	}
}

// cronLogger routes cron's own logging into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
