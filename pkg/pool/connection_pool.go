// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package pool manages outbound daemon-to-daemon connections: the server
// dialing a MoM for the exec fan-out (section 4.9), dialing a peer server
// for a cross-server move (section 4.7), and the scheduler's primary/
// secondary channel back to the server. One *Dialed is kept per remote
// endpoint and swept once it has sat idle past the configured default
// connection cap (section 3, 900s).
package pool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pbsgo/batchcore/pkg/logging"
)

// Dialed wraps a pooled outbound net.Conn with usage bookkeeping.
type Dialed struct {
	mu          sync.Mutex
	conn        net.Conn
	created     time.Time
	lastUsed    time.Time
	useCount    int64
	activeLeases int32
}

func (d *Dialed) Conn() net.Conn { return d.conn }

// ConnPool manages one Dialed connection per remote endpoint address.
type ConnPool struct {
	mu      sync.RWMutex
	conns   map[string]*Dialed
	config  *PoolConfig
	logger  logging.Logger
	dialer  *net.Dialer
	tlsConf *tls.Config
}

// PoolConfig mirrors the daemon's connection defaults (section 3).
type PoolConfig struct {
	DialTimeout     time.Duration
	KeepAlive       time.Duration
	IdleConnTimeout time.Duration // default connection idle cap, 900s
	UseTLS          bool
}

// DefaultPoolConfig returns the protocol's documented idle-connection cap.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		DialTimeout:     10 * time.Second,
		KeepAlive:       30 * time.Second,
		IdleConnTimeout: 900 * time.Second,
	}
}

func NewConnPool(config *PoolConfig, logger logging.Logger) *ConnPool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if logger == nil {
		logger = logging.NoOpLogger{}
	}

	var tlsConf *tls.Config
	if config.UseTLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &ConnPool{
		conns:  make(map[string]*Dialed),
		config: config,
		logger: logger,
		dialer: &net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		},
		tlsConf: tlsConf,
	}
}

// Get returns the pooled connection to addr, dialing a new one if none
// exists yet or the prior one has gone bad.
func (p *ConnPool) Get(ctx context.Context, addr string) (net.Conn, error) {
	p.mu.RLock()
	d, exists := p.conns[addr]
	p.mu.RUnlock()

	if exists {
		p.mu.Lock()
		d.lastUsed = time.Now()
		d.useCount++
		p.mu.Unlock()
		return d.conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if d, exists := p.conns[addr]; exists {
		d.lastUsed = time.Now()
		d.useCount++
		return d.conn, nil
	}

	conn, err := p.dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("pool: dial %s: %w", addr, err)
	}

	p.conns[addr] = &Dialed{
		conn:     conn,
		created:  time.Now(),
		lastUsed: time.Now(),
		useCount: 1,
	}
	p.logger.Info("opened pooled connection", "addr", addr)
	return conn, nil
}

func (p *ConnPool) dial(ctx context.Context, addr string) (net.Conn, error) {
	if p.tlsConf != nil {
		return tls.DialWithDialer(p.dialer, "tcp", addr, p.tlsConf)
	}
	return p.dialer.DialContext(ctx, "tcp", addr)
}

// Invalidate drops and closes the pooled connection for addr, forcing the
// next Get to redial. Callers use this after observing a write/read error.
func (p *ConnPool) Invalidate(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d, ok := p.conns[addr]; ok {
		_ = d.conn.Close()
		delete(p.conns, addr)
	}
}

// Stats reports per-endpoint usage counters, surfaced on the admin status
// endpoint.
func (p *ConnPool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{
		TotalConns: len(p.conns),
		PerEndpoint: make(map[string]EndpointStats),
	}
	for addr, d := range p.conns {
		stats.PerEndpoint[addr] = EndpointStats{
			Created:  d.created,
			LastUsed: d.lastUsed,
			UseCount: d.useCount,
		}
	}
	return stats
}

// CleanupIdle closes and drops connections that have sat idle past
// maxIdleTime, returning the count removed.
func (p *ConnPool) CleanupIdle(maxIdleTime time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxIdleTime)
	for addr, d := range p.conns {
		if d.lastUsed.Before(cutoff) && d.activeLeases == 0 {
			_ = d.conn.Close()
			delete(p.conns, addr)
			removed++
			p.logger.Info("closed idle pooled connection", "addr", addr, "idle_duration", time.Since(d.lastUsed))
		}
	}
	return removed
}

// Close closes every pooled connection.
func (p *ConnPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for addr, d := range p.conns {
		_ = d.conn.Close()
		delete(p.conns, addr)
	}
	p.logger.Info("closed all pooled connections")
	return nil
}

type PoolStats struct {
	TotalConns  int
	PerEndpoint map[string]EndpointStats
}

type EndpointStats struct {
	Created  time.Time
	LastUsed time.Time
	UseCount int64
}

// Sweeper periodically evicts connections idle past the configured cap,
// the active-connection side of the idle-connection sweep (section 3).
type Sweeper struct {
	pool            *ConnPool
	healthCheckFunc HealthCheckFunc
	cleanupInterval time.Duration
	maxIdleTime     time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	logger          logging.Logger
}

// HealthCheckFunc probes whether a pooled connection's endpoint is still
// reachable before handing it back out.
type HealthCheckFunc func(ctx context.Context, addr string, conn net.Conn) error

func NewSweeper(pool *ConnPool, healthCheck HealthCheckFunc, maxIdleTime time.Duration, logger logging.Logger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if maxIdleTime <= 0 {
		maxIdleTime = DefaultPoolConfig().IdleConnTimeout
	}

	return &Sweeper{
		pool:            pool,
		healthCheckFunc: healthCheck,
		cleanupInterval: time.Minute,
		maxIdleTime:     maxIdleTime,
		ctx:             ctx,
		cancel:          cancel,
		logger:          logger,
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.pool.CleanupIdle(s.maxIdleTime); removed > 0 {
				s.logger.Info("swept idle connections", "removed", removed)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// GetHealthy returns a live connection to addr, health-checking it first
// when a HealthCheckFunc is configured.
func (s *Sweeper) GetHealthy(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := s.pool.Get(ctx, addr)
	if err != nil {
		return nil, err
	}
	if s.healthCheckFunc != nil {
		if err := s.healthCheckFunc(ctx, addr, conn); err != nil {
			s.pool.Invalidate(addr)
			return nil, fmt.Errorf("pool: endpoint health check failed: %w", err)
		}
	}
	return conn, nil
}
