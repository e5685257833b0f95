package proxy

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/die-net/sockstate/internal/handshake"
	"github.com/die-net/sockstate/internal/socks"
)

// Server is a SOCKS4, SOCKS4a and SOCKS5 proxy. It serves CONNECT only;
// other commands are answered with a command-not-supported reply.
type Server struct {
	ctx context.Context
	cfg Config
	log *slog.Logger
}

// NewServer returns a Server. Connections it serves are closed when ctx is
// canceled.
func NewServer(ctx context.Context, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{ctx: ctx, cfg: cfg, log: logger}
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
			return err
		}
		go s.handleConn(c)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	log := s.log.With("session", uuid.NewString(), "client", conn.RemoteAddr().String())

	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	hs, err := handshake.NewServer(conn, s.cfg.Auth)
	if err != nil {
		log.Error("handshake setup failed", "error", err)
		return
	}
	req, err := hs.Handshake()
	if err != nil {
		log.Debug("handshake failed", "error", err)
		return
	}

	log = log.With("version", req.Version, "cmd", req.Cmd.String(), "dest", req.HostPort())
	if req.Username != "" {
		log = log.With("user", req.Username)
	}

	if req.Cmd != socks.CmdConnect {
		_ = hs.Reply(nil, handshake.ErrCommandNotSupported)
		log.Info("rejected unsupported command")
		return
	}

	up, err := s.dial(req)
	if err != nil {
		_ = hs.Reply(nil, err)
		log.Info("dial failed", "error", err, "status", handshake.StatusFor(err).String())
		return
	}
	defer up.Close()

	if err := hs.Reply(up.LocalAddr(), nil); err != nil {
		log.Debug("reply failed", "error", err)
		return
	}
	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}

	log.Debug("connected", "upstream", up.RemoteAddr().String())
	if err := CopyBidirectional(s.ctx, hs.Conn(), up); err != nil {
		log.Debug("copy ended", "error", err)
	}
}

// dial connects to the destination, bounded by the negotiation timeout.
func (s *Server) dial(req handshake.Request) (net.Conn, error) {
	ctx := s.ctx
	if s.cfg.NegotiationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.NegotiationTimeout)
		defer cancel()
	}
	return s.cfg.Dialer.DialContext(ctx, "tcp", req.HostPort())
}
