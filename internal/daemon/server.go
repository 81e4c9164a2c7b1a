package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dev_guard/internal/domain"
)

// Handler receives decoded companion commands.
type Handler interface {
	AppStarted(ctx context.Context, ev domain.AppStarted)
	ConfigChanged(ctx context.Context)
}

// CompanionServer runs the command loop over companion connections.
// Connections are served one at a time; they are short-lived.
type CompanionServer struct {
	handler     Handler
	readTimeout time.Duration
	logger      *zap.Logger
}

// NewCompanionServer creates a server. readTimeout bounds every read; zero
// disables the deadline.
func NewCompanionServer(handler Handler, readTimeout time.Duration, logger *zap.Logger) *CompanionServer {
	return &CompanionServer{
		handler:     handler,
		readTimeout: readTimeout,
		logger:      logger,
	}
}

// Serve accepts connections until ctx is canceled or the listener fails.
// The listener is closed on return.
func (s *CompanionServer) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				backoff = nextBackoff(backoff)
				s.logger.Warn("accept failed, retrying", zap.Error(err), zap.Duration("backoff", backoff))
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		s.ServeConn(ctx, conn)
	}
}

// ServeConn runs the command loop for one connection and closes it.
// A short read, oversized payload or unknown opcode ends only this connection.
func (s *CompanionServer) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		if ctx.Err() != nil {
			return
		}
		s.armDeadline(conn)

		code, err := ReadCommand(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("companion connection closed")
			} else {
				s.logger.Warn("companion connection ended", zap.Error(err))
			}
			return
		}

		switch code {
		case CmdAppStarted:
			ev, err := ReadAppStarted(conn)
			if errors.Is(err, ErrInvalidPackage) || errors.Is(err, ErrInvalidPID) {
				s.logger.Warn("rejected app started", zap.Error(err))
				continue
			}
			if err != nil {
				s.logger.Warn("companion connection ended",
					zap.Stringer("command", code),
					zap.Error(err))
				return
			}
			s.handler.AppStarted(ctx, ev)

		case CmdConfigChanged:
			s.handler.ConfigChanged(ctx)

		default:
			s.logger.Warn("companion connection ended",
				zap.Stringer("command", code),
				zap.Error(ErrUnknownCommand))
			return
		}
	}
}

func (s *CompanionServer) armDeadline(conn net.Conn) {
	if s.readTimeout <= 0 {
		return
	}
	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		s.logger.Debug("failed to set read deadline", zap.Error(err))
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}
