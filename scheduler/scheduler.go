// Package scheduler drives the tracker's periodic work: flushing the
// write-behind buffers, reaping inactive peers and logging a heartbeat.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/serval/serval/config"
	"github.com/serval/serval/pkg/log"
	"github.com/serval/serval/stats"
)

// statusEvery is how many ticks pass between heartbeat log lines.
const statusEvery = 20

// Flusher is anything with buffered writes to push out.
// *database.Database and *site.Client satisfy it.
type Flusher interface {
	Flush()
}

// Reaper expires stale tracker state. *tracker.Tracker satisfies it.
type Reaper interface {
	ReapPeers()
	ReapDelReasons()
}

// Scheduler owns the tick loop.
type Scheduler struct {
	cfg   *config.Config
	clock clock.Clock
	stats *stats.Stats

	db     Flusher
	site   Flusher
	reaper Reaper

	reapActive int32

	counter       uint64
	reapCountdown time.Duration
	lastOpened    int64
	lastRequests  int64

	done chan struct{}
	wg   sync.WaitGroup
}

// New builds a Scheduler; call Start to run it.
func New(cfg *config.Config, clk clock.Clock, st *stats.Stats, db, site Flusher, reaper Reaper) *Scheduler {
	return &Scheduler{
		cfg:           cfg,
		clock:         clk,
		stats:         st,
		db:            db,
		site:          site,
		reaper:        reaper,
		reapCountdown: cfg.ReapInterval(),
		done:          make(chan struct{}),
	}
}

// Start launches the tick loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop halts the loop after the current tick.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	ticker := s.clock.Ticker(s.cfg.ScheduleInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.done:
			return
		}
	}
}

func (s *Scheduler) tick() {
	if s.counter%statusEvery == 0 {
		s.logStatus()
	}
	s.counter++

	s.db.Flush()
	s.site.Flush()

	s.reapCountdown -= s.cfg.ScheduleInterval()
	if s.reapCountdown <= 0 {
		s.reapCountdown = s.cfg.ReapInterval()
		// A slow sweep must not stall the flush cadence; skip if the
		// previous one is still running.
		if atomic.CompareAndSwapInt32(&s.reapActive, 0, 1) {
			go func() {
				defer atomic.StoreInt32(&s.reapActive, 0)
				s.reaper.ReapPeers()
				s.reaper.ReapDelReasons()
			}()
		}
	}
}

func (s *Scheduler) logStatus() {
	snap := s.stats.Snapshot()
	window := s.cfg.ScheduleInterval().Seconds() * statusEvery
	connRate := float64(snap.OpenedConnections-s.lastOpened) / window
	reqRate := float64(snap.Requests-s.lastRequests) / window
	s.lastOpened = snap.OpenedConnections
	s.lastRequests = snap.Requests

	log.Info("status", log.Fields{
		"open_connections": snap.OpenConnections,
		"connections":      snap.OpenedConnections,
		"connections/s":    connRate,
		"requests":         snap.Requests,
		"requests/s":       reqRate,
	})
}
