// Package maint implements the maintenance scheduler: a timer thread that
// periodically gathers per-range statistics and enqueues compaction and
// split work, sweeps expired scanners, and pauses/resumes the application
// queue under memory pressure, spec.md §4.10's maintenance-scheduler
// paragraph. Grounded on the teacher's internal/queue/runner.go ticker-
// driven maintenance idiom (a single background goroutine polling state
// and issuing work on a fixed interval), retargeted from ublk queue
// draining to range-server compaction/split decisions.
package maint

import (
	"context"
	"time"

	"github.com/hypertable-go/rangeserver/internal/appqueue"
	"github.com/hypertable-go/rangeserver/internal/config"
	"github.com/hypertable-go/rangeserver/internal/logging"
	"github.com/hypertable-go/rangeserver/internal/rangeserver"
)

// Scheduler runs the periodic maintenance pass against one Server.
type Scheduler struct {
	srv    *rangeserver.Server
	cfg    *config.Config
	queue  *appqueue.Queue
	logger *logging.Logger

	interval time.Duration
}

// New returns a Scheduler. queue may be nil if the caller's application
// queue has no memory-pressure pause/resume wired (tests, mainly).
func New(srv *rangeserver.Server, cfg *config.Config, queue *appqueue.Queue, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With("maint")
	interval := cfg.MaintenanceInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{srv: srv, cfg: cfg, queue: queue, logger: logger, interval: interval}
}

// Run blocks, running one pass every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce performs one maintenance pass: scanner TTL sweep, memory-
// pressure pause/resume, per-range-group compaction triggers, a split
// check per range, and global commit-log pruning.
func (s *Scheduler) runOnce(ctx context.Context) {
	if n := s.srv.SweepExpiredScanners(); n > 0 {
		s.logger.Debugf("maint: swept %d expired scanners", n)
	}

	s.checkMemoryPressure()

	for _, rs := range s.srv.RangeSnapshots() {
		rangeBytes := int64(0)
		for _, g := range rs.Groups {
			rangeBytes += g.MemoryUsage
			if g.MemoryUsage >= s.cfg.AccessGroup.MaxMemory && s.cfg.AccessGroup.MaxMemory > 0 {
				if err := s.srv.Compact(ctx, rs.TableID, rs.RangeID, g.Name, rangeserver.CompactMinor); err != nil {
					s.logger.Warnf("maint: minor compact %s/%s/%s: %v", rs.TableID, rs.RangeID, g.Name, err)
				} else {
					s.logger.Debugf("maint: minor compacted %s/%s/%s", rs.TableID, rs.RangeID, g.Name)
				}
			}
			if s.cfg.AccessGroup.MaxFiles > 0 && g.StoreCount > s.cfg.AccessGroup.MaxFiles {
				merge := s.cfg.AccessGroup.MergeFiles
				if merge <= 0 {
					merge = g.StoreCount
				}
				if err := s.srv.MergeCompact(ctx, rs.TableID, rs.RangeID, g.Name, merge); err != nil {
					s.logger.Warnf("maint: merge compact %s/%s/%s: %v", rs.TableID, rs.RangeID, g.Name, err)
				} else {
					s.logger.Debugf("maint: merge compacted %s/%s/%s", rs.TableID, rs.RangeID, g.Name)
				}
			}
		}

		splitSize := s.cfg.Range.SplitSize
		if rs.TableID == rangeserver.MetadataTableID {
			splitSize = s.cfg.Range.MetadataSplitSize
		}
		if splitSize > 0 && rangeBytes >= splitSize {
			childID, err := s.srv.SplitRange(ctx, rs.TableID, rs.RangeID)
			if err != nil {
				s.logger.Warnf("maint: split %s/%s: %v", rs.TableID, rs.RangeID, err)
			} else {
				s.logger.Infof("maint: split %s/%s -> %s", rs.TableID, rs.RangeID, childID)
			}
		}
	}

	if n, err := s.srv.PurgeLogs(ctx); err != nil {
		s.logger.Warnf("maint: purge logs: %v", err)
	} else if n > 0 {
		s.logger.Debugf("maint: purged %d commit-log fragments", n)
	}
}

// checkMemoryPressure pauses the application queue's non-urgent handlers
// once the server is over its configured memory limit and resumes them
// once it is back under, spec.md §5's memory tracker / back-pressure
// contract.
func (s *Scheduler) checkMemoryPressure() {
	if s.queue == nil {
		return
	}
	stats := s.srv.GetStatistics()
	if stats.MemoryLimitBytes > 0 && stats.MemoryUsedBytes >= stats.MemoryLimitBytes {
		s.queue.Pause()
		s.logger.Warnf("maint: over memory limit (%d/%d bytes), pausing application queue",
			stats.MemoryUsedBytes, stats.MemoryLimitBytes)
		return
	}
	s.queue.Resume()
}
