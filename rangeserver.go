package rangeserver

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hypertable-go/rangeserver/internal/appqueue"
	"github.com/hypertable-go/rangeserver/internal/dfs"
	"github.com/hypertable-go/rangeserver/internal/logging"
	"github.com/hypertable-go/rangeserver/internal/maint"
	"github.com/hypertable-go/rangeserver/internal/reactor"
	rs "github.com/hypertable-go/rangeserver/internal/rangeserver"
)

// CompactType, CompactMinor, and CompactMajor are re-exported from
// internal/rangeserver the same way the error taxonomy is re-exported in
// errors.go: the storage-stack packages live under internal/ so the
// public surface is just these aliases.
type CompactType = rs.CompactType

const (
	CompactMinor = rs.CompactMinor
	CompactMajor = rs.CompactMajor
)

// Service is one standalone range server instance: the storage core, the
// AsyncComm-style reactor pool accepting client connections, the
// application queue serializing per-range request ordering, the
// maintenance scheduler, and the admin/metrics surface -- everything
// cmd/rangeserverd needs to bring a process up, mirroring how the
// teacher's cmd/ublk-mem/main.go assembles a Controller, a Backend, and a
// request queue into one running device.
type Service struct {
	cfg     *Config
	logger  *logging.Logger
	fs      dfs.Filesystem
	core    *rs.Server
	queue   *appqueue.Queue
	conns   *rs.ConnHandler
	pool    *reactor.Pool
	metrics *Metrics
	maint   *maint.Scheduler

	listener net.Listener
	nextConn uint64
	connMu   sync.Mutex

	wg sync.WaitGroup
}

// NewService assembles a Service from config and a filesystem backend.
// The caller picks fs (local/S3/HDFS) based on cfg.DFS.Type before calling
// this -- see internal/dfs.Openers for the registry cmd/rangeserverd
// builds to do that selection.
func NewService(ctx context.Context, cfg *Config, fs dfs.Filesystem, logger *logging.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.Default()
	}
	core, err := rs.New(ctx, cfg, fs, logger)
	if err != nil {
		return nil, fmt.Errorf("rangeserver: start core: %w", err)
	}

	queue := appqueue.New(cfg.RangeServer.Workers * 64)
	conns := rs.NewConnHandler(core, queue, logger)
	conns.StartWorkers(ctx, cfg.RangeServer.Workers)

	pool, err := reactor.NewPool(ctx, cfg.RangeServer.Workers, conns, logger)
	if err != nil {
		core.Close()
		return nil, fmt.Errorf("rangeserver: start reactor pool: %w", err)
	}

	metrics := NewMetrics(prometheus.DefaultRegisterer)
	sched := maint.New(core, cfg, queue, logger)

	return &Service{
		cfg:     cfg,
		logger:  logger,
		fs:      fs,
		core:    core,
		queue:   queue,
		conns:   conns,
		pool:    pool,
		metrics: metrics,
		maint:   sched,
	}, nil
}

// Metrics exposes the service's Prometheus metrics, for an admin surface
// or an alternate /metrics endpoint to register against a non-default
// registerer.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Core exposes the underlying storage engine, for an admin surface that
// needs GetStatistics/RangeSnapshots/PurgeLogs beyond what Service itself
// wraps.
func (s *Service) Core() *rs.Server { return s.core }

// Run opens the client listener and blocks running the accept loop and
// the maintenance scheduler until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.RangeServer.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rangeserver: listen %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Infof("rangeserver: listening on %s", addr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.maint.Run(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("rangeserver: accept: %w", err)
			}
		}
		s.connMu.Lock()
		s.nextConn++
		id := s.nextConn
		s.connMu.Unlock()
		if _, err := s.pool.Assign(id, nc); err != nil {
			s.logger.Warnf("rangeserver: assign conn %d: %v", id, err)
			nc.Close()
		}
	}
}

// Close shuts down the reactor pool, the application queue, and the
// storage core, releasing every open commit log and cell store file.
func (s *Service) Close() error {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.queue != nil {
		s.queue.Close()
	}
	return s.core.Close()
}
