package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/zephyrlink/internal/config"
	"github.com/ryandielhenn/zephyrlink/pkg/discovery"
	"github.com/ryandielhenn/zephyrlink/pkg/identity"
	"github.com/ryandielhenn/zephyrlink/pkg/neighbor"
	"github.com/ryandielhenn/zephyrlink/pkg/probe"
)

// Node owns one participant's sockets and tasks: the announcer, the discovery
// listener, the timestamp responder and the delay measurements they spawn.
type Node struct {
	id        identity.ID
	cfg       config.Config
	table     *neighbor.Table
	transport discovery.Transport
	responder *probe.Responder
	estimator *probe.Estimator
	announcer *discovery.Announcer
	listener  *discovery.Listener
	log       *zap.Logger

	mu    sync.Mutex
	base  context.Context // parent of spawned measurements, set by Run
	tasks sync.WaitGroup
}

type Option func(*Node)

// WithTransport replaces the UDP discovery socket. The node takes ownership
// and closes t when Run returns.
func WithTransport(t discovery.Transport) Option {
	return func(n *Node) { n.transport = t }
}

// New binds the node's sockets. Nothing runs until Run.
func New(cfg config.Config, log *zap.Logger, opts ...Option) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	id := identity.New()
	if cfg.NodeID != "" {
		id = identity.ID(cfg.NodeID)
	}

	n := &Node{
		id:    id,
		cfg:   cfg,
		table: neighbor.NewTable(),
		log:   log.With(zap.Stringer("node", id)),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.transport == nil {
		t, err := discovery.ListenUDP(cfg.DiscoveryPort, cfg.BroadcastAddr)
		if err != nil {
			return nil, err
		}
		n.transport = t
	}

	r, err := probe.NewResponder(cfg.ListenAddr, n.log)
	if err != nil {
		_ = n.transport.Close()
		return nil, err
	}
	n.responder = r

	a, err := discovery.NewAnnouncer(n.transport, discovery.Announcement{ID: id, Port: r.Port()}, cfg.AnnounceInterval, n.log)
	if err != nil {
		_ = n.Close()
		return nil, err
	}
	n.announcer = a
	n.estimator = probe.NewEstimator(n.table, cfg.MeasureTimeout, cfg.SettleDelay, n.log)
	n.listener = discovery.NewListener(n.transport, id, n.table, n.trigger, n.log)
	return n, nil
}

func (n *Node) ID() identity.ID { return n.id }

// Port is the advertised TCP port of the timestamp responder.
func (n *Node) Port() uint16 { return n.responder.Port() }

func (n *Node) Table() *neighbor.Table { return n.table }

// Run starts every long-running task and blocks until ctx is done or one of
// them fails. Sockets are closed and spawned measurements awaited before it
// returns.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n.mu.Lock()
	n.base = ctx
	n.mu.Unlock()

	n.log.Info("node up", zap.Uint16("tcp_port", n.Port()), zap.Int("discovery_port", n.cfg.DiscoveryPort))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.announcer.Run(gctx) })
	g.Go(func() error { return n.listener.Run(gctx) })
	g.Go(func() error { return n.responder.Serve(gctx) })
	if n.cfg.AdminAddr != "" {
		srv := &http.Server{
			Addr:              n.cfg.AdminAddr,
			Handler:           n.Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			n.log.Info("admin listening", zap.String("addr", n.cfg.AdminAddr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	err := g.Wait()
	n.mu.Lock()
	n.base = nil
	n.mu.Unlock()
	cancel()
	n.tasks.Wait()
	err = errors.Join(err, n.Close())

	n.log.Info("node down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Remeasure starts a delay measurement of a known neighbor. It reports false
// if id is not in the table.
func (n *Node) Remeasure(id identity.ID) bool {
	e, ok := n.table.Get(id)
	if !ok {
		return false
	}
	n.trigger(id, e.Addr)
	return true
}

// trigger runs one measurement in its own goroutine; the estimator drops it if
// another one for id is still in flight.
func (n *Node) trigger(id identity.ID, addr netip.AddrPort) {
	n.mu.Lock()
	base := n.base
	if base == nil {
		n.mu.Unlock()
		return
	}
	n.tasks.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.tasks.Done()
		if _, err := n.estimator.Measure(base, id, addr); err != nil && !errors.Is(err, probe.ErrInFlight) {
			n.log.Debug("measurement ended", zap.Stringer("peer", id), zap.Error(err))
		}
	}()
}

// Close releases the node's sockets. Run calls it on exit.
func (n *Node) Close() error {
	return errors.Join(n.transport.Close(), n.responder.Close())
}
