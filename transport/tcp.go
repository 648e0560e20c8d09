package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/pubsub/hub"
)

// TCP is a small pub/sub broker speaking the Redis protocol. It serves
// enough of it for subscribers and publishers: PING, AUTH, PUBLISH, the
// (P)(UN)SUBSCRIBE family and QUIT.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	mu        sync.Mutex
	boundAddr string

	numListeners int
	reuseport    bool
	listeners    []*TCPListener

	hub     hub.Hub
	metrics *Metrics

	connOptions connOptions

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	if !options.Reuseport {
		numListeners = 1
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	metrics := options.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	h := options.Hub
	if h == nil {
		h = hub.NewInmemoryHub()
	}

	username := options.Username
	if username == "" {
		username = "default"
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: numListeners,
		reuseport:    options.Reuseport,
		listeners:    make([]*TCPListener, 0, numListeners),
		hub:          h,
		metrics:      metrics,
		connOptions: connOptions{
			requirePass: options.RequirePass,
			username:    username,
			trace:       options.Trace,
		},
		log: log,
	}
}

// Start binds every listener before returning, so Addr is valid as soon as
// Start succeeds. When the configured port is 0 the first listener picks
// one and the rest share it.
func (w *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	w.cancel = cancel

	w.log.Info("Starting tcp listeners",
		zap.Int("count", w.numListeners),
		zap.Bool("reuseport", w.reuseport))

	addr := w.addr
	for i := 0; i < w.numListeners; i++ {
		listener, err := w.listen(addr)
		if err != nil {
			return multierr.Append(
				fmt.Errorf("Failed to listen on %s: %w", addr, err),
				w.Close(),
			)
		}

		if i == 0 {
			addr = listener.Addr().String()

			w.mu.Lock()
			w.boundAddr = addr
			w.mu.Unlock()
		}

		w.startListener(ctx, listener)
	}

	w.log.Info("Listening", zap.String("addr", addr))

	return nil
}

// Addr is the address the broker is bound to, empty until Start succeeds.
func (w *TCP) Addr() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.boundAddr
}

func (w *TCP) Hub() hub.Hub {
	return w.hub
}

func (w *TCP) Metrics() *Metrics {
	return w.metrics
}

func (w *TCP) listen(addr string) (net.Listener, error) {
	if w.reuseport {
		return reuseport.Listen("tcp", addr)
	}

	return net.Listen("tcp", addr)
}

func (w *TCP) startListener(ctx context.Context, ln net.Listener) {
	listener := NewTCPListener(
		ctx,
		ln,
		w.hub,
		w.metrics,
		w.connOptions,
		w.log.Named("listener").With(zap.Int("listener", len(w.listeners))),
	)

	w.listeners = append(w.listeners, listener)

	w.stopWaiter.Add(1)
	go func() {
		defer w.stopWaiter.Done()

		if err := listener.Listen(); err != nil {
			w.log.Error("Listener stopped accepting connections", zap.Error(err))
		}
	}()
}

// Close immediately closes all listeners and connections.
//
// For a bounded wait, use Shutdown()
func (w *TCP) Close() (err error) {
	if w.cancel == nil {
		return nil
	}

	w.log.Info("Stopping TCP server")
	w.cancel()

	for _, listener := range w.listeners {
		err = multierr.Append(err, listener.Close())
	}

	w.stopWaiter.Wait()
	w.log.Info("TCP server stopped")

	return err
}

// Shutdown closes the server but gives up waiting once ctx is done.
func (w *TCP) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)

	go func() {
		done <- w.Close()
	}()

	select {
	case err := <-done:
		return err

	case <-ctx.Done():
		return ctx.Err()
	}
}

type TCPListener struct {
	ctx      context.Context
	listener net.Listener

	hub         hub.Hub
	metrics     *Metrics
	connOptions connOptions

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}
	loopWaiter  sync.WaitGroup

	log *zap.Logger
}

func NewTCPListener(
	ctx context.Context,
	listener net.Listener,
	h hub.Hub,
	metrics *Metrics,
	options connOptions,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		listener:    listener,
		hub:         h,
		metrics:     metrics,
		connOptions: options,
		activeConns: make(map[*TCPConn]struct{}),
		log:         log,
	}
}

// Close stops accepting and closes every connection accepted so far.
func (t *TCPListener) Close() error {
	err := t.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for conn := range t.activeConns {
		err = multierr.Append(err, conn.Close())
	}

	return err
}

// Listen accepts connections until the listener is closed, then waits for
// the connections it started to finish.
func (t *TCPListener) Listen() error {
	defer func() {
		t.log.Debug("Waiting for connections to stop")
		t.loopWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.ctx.Err() != nil {
				// Closed while we were waiting for new connections, that's fine.
				return nil
			}

			return err
		}

		tcpConn := NewTCPConn(t.ctx, conn, t.hub, t.metrics, t.connOptions, t.log.Named("conn"))
		t.addConn(tcpConn)

		t.loopWaiter.Add(1)
		go func() {
			defer t.loopWaiter.Done()
			defer t.removeConn(tcpConn)

			tcpConn.Start()
		}()
	}
}

func (t *TCPListener) addConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.activeConns[conn] = struct{}{}
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}
