package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

const writeTimeout = 2 * time.Second

// Responder answers every inbound connection with the current time and
// closes it. Connecting is the whole request.
type Responder struct {
	ln  net.Listener
	now func() time.Time
	log *zap.Logger
}

// NewResponder listens on addr; ":0" picks an ephemeral port, see Port.
func NewResponder(addr string, log *zap.Logger) (*Responder, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", addr, err)
	}
	return &Responder{ln: ln, now: time.Now, log: log.Named("responder")}, nil
}

// Port is the bound TCP port, the one advertised in announcements.
func (r *Responder) Port() uint16 {
	return uint16(r.ln.Addr().(*net.TCPAddr).Port)
}

func (r *Responder) Addr() net.Addr { return r.ln.Addr() }

// Serve accepts until ctx is done or the listener is closed.
func (r *Responder) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = r.ln.Close() })
	defer stop()

	r.log.Info("serving timestamps", zap.Stringer("addr", r.ln.Addr()))

	var backoff time.Duration
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// Same schedule as net/http's accept loop.
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			r.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0
		r.reply(conn)
	}
}

func (r *Responder) reply(conn net.Conn) {
	defer func() {
		if err := conn.Close(); err != nil {
			r.log.Debug("close failed", zap.Stringer("peer", conn.RemoteAddr()), zap.Error(err))
		}
	}()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write([]byte(FormatTimestamp(r.now()))); err != nil {
		r.log.Debug("write failed", zap.Stringer("peer", conn.RemoteAddr()), zap.Error(err))
	}
}

func (r *Responder) Close() error {
	if err := r.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
