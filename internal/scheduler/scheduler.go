// Package scheduler runs the periodic jobs (rebalance, score refresh) on
// cron schedules. Every job takes the shared run lock before touching the
// broker or state, so jobs never interleave with an engine tick.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

type Scheduler struct {
	cron    *cron.Cron
	runLock *sync.Mutex
	baseCtx context.Context
}

// New creates a scheduler sharing runLock with the engine. A nil lock gets
// a private one, for standalone use.
func New(baseCtx context.Context, runLock *sync.Mutex) *Scheduler {
	if runLock == nil {
		runLock = &sync.Mutex{}
	}
	return &Scheduler{
		cron:    cron.New(),
		runLock: runLock,
		baseCtx: baseCtx,
	}
}

// Add registers a job under a standard 5-field cron spec. The job runs
// holding the run lock; overlapping fires of the same entry queue behind it.
func (s *Scheduler) Add(spec, name string, job func(context.Context) error) (cron.EntryID, error) {
	return s.cron.AddFunc(spec, func() {
		s.runLock.Lock()
		defer s.runLock.Unlock()

		log.Info().Str("job", name).Msg("scheduled job started")
		if err := job(s.baseCtx); err != nil {
			log.Error().Err(err).Str("job", name).Msg("scheduled job failed")
			return
		}
		log.Info().Str("job", name).Msg("scheduled job finished")
	})
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("jobs", len(s.cron.Entries())).Msg("scheduler started")
}

// Stop halts scheduling and waits for any running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}
