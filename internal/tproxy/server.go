package tproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/google/uuid"

	"github.com/die-net/sockstate/internal/dialer"
	"github.com/die-net/sockstate/internal/proxy"
)

// Server forwards each accepted connection to its original destination.
type Server struct {
	ctx    context.Context
	cfg    proxy.Config
	log    *slog.Logger
	dialer dialer.Dialer

	originalDst func(net.Conn) (netip.AddrPort, error)
}

func NewServer(ctx context.Context, cfg proxy.Config, logger *slog.Logger) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ctx: ctx, cfg: cfg, log: logger, dialer: cfg.Dialer, originalDst: OriginalDst}
}

// Serve accepts connections on ln until it fails. It returns nil if ln was
// closed after ctx was canceled.
func (s *Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) && s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			log := s.log.With("session", uuid.NewString(), "client", c.RemoteAddr().String())
			if err := s.handle(c, log); err != nil {
				log.Info("tproxy connection error", "error", err)
			}
		}()
	}
}

func (s *Server) handle(conn net.Conn, log *slog.Logger) error {
	defer conn.Close()

	dst, err := s.originalDst(conn)
	if err != nil {
		return fmt.Errorf("original destination: %w", err)
	}

	dialCtx := s.ctx
	if s.cfg.NegotiationTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(s.ctx, s.cfg.NegotiationTimeout)
		defer cancel()
	}

	up, err := s.dialer.DialContext(dialCtx, "tcp", dst.String())
	if err != nil {
		return err
	}
	defer up.Close()

	log.Debug("connected", "dest", dst.String(), "upstream", up.RemoteAddr().String())
	if err := proxy.CopyBidirectional(s.ctx, conn, up); err != nil {
		return fmt.Errorf("proxy: %w", err)
	}
	return nil
}
