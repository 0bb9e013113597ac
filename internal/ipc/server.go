package ipc

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"
)

// HandlerFunc answers a single request method. Returning a non-nil RPCError
// sends an error envelope instead of a response envelope.
type HandlerFunc func(ctx context.Context, params map[string]any) (map[string]any, *RPCError)

// Server accepts peer connections on a unix-domain socket, frames/decodes
// messages, dispatches requests to registered handlers, and can broadcast
// notifications to every connected peer.
type Server struct {
	socketPath string
	logger     *zap.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	peers    map[*serverPeer]struct{}

	listener net.Listener
}

type serverPeer struct {
	conn net.Conn
	buf  bytes.Buffer
	mu   sync.Mutex
}

// NewServer constructs a server for one worker's listening socket.
func NewServer(socketPath string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		socketPath: socketPath,
		logger:     logger.With(zap.String("component", "ipc.server")),
		handlers:   make(map[string]HandlerFunc),
		peers:      make(map[*serverPeer]struct{}),
	}
}

// Handle registers (or overwrites) the handler for method.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// ListenAndServe binds the socket (removing a stale file first, as a local
// domain socket path cannot be rebound over a leftover file), prints the
// readiness marker on stdout so a supervisor watching our stdout knows we're
// up, then serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("ipc: listen %s: %w", s.socketPath, err)
	}
	s.listener = ln

	fmt.Println("ready")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("ipc: accept: %w", err)
			}
		}
		peer := &serverPeer{conn: conn}
		s.mu.Lock()
		s.peers[peer] = struct{}{}
		s.mu.Unlock()
		go s.servePeer(ctx, peer)
	}
}

func (s *Server) servePeer(ctx context.Context, peer *serverPeer) {
	defer func() {
		s.mu.Lock()
		delete(s.peers, peer)
		s.mu.Unlock()
		_ = peer.conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, err := peer.conn.Read(buf)
		if n > 0 {
			peer.buf.Write(buf[:n])
			envs, consumed, decErr := DecodeAll(peer.buf.Bytes())
			remaining := append([]byte(nil), peer.buf.Bytes()[consumed:]...)
			peer.buf.Reset()
			peer.buf.Write(remaining)

			for _, env := range envs {
				s.dispatch(ctx, peer, env)
			}
			if decErr != nil {
				s.logger.Warn("frame decode error, closing peer", zap.Error(decErr))
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, peer *serverPeer, env Envelope) {
	if env.Type != TypeRequest {
		return
	}

	s.mu.RLock()
	h, ok := s.handlers[env.Method]
	s.mu.RUnlock()

	if !ok {
		s.writeTo(peer, NewError(env.ID, CodeNotFound, fmt.Sprintf("unknown method %q", env.Method)))
		return
	}

	result, rpcErr := h(ctx, env.Params)
	if rpcErr != nil {
		s.writeTo(peer, NewError(env.ID, rpcErr.Code, rpcErr.Message))
		return
	}
	s.writeTo(peer, NewResponse(env.ID, result))
}

func (s *Server) writeTo(peer *serverPeer, env Envelope) {
	frame, err := Encode(env)
	if err != nil || frame == nil {
		s.logger.Warn("failed to encode outgoing envelope", zap.Error(err))
		return
	}
	peer.mu.Lock()
	defer peer.mu.Unlock()
	_, _ = peer.conn.Write(frame)
}

// Broadcast sends a notification to every currently connected peer.
func (s *Server) Broadcast(method string, params map[string]any) {
	env := NewNotification(method, params)
	frame, err := Encode(env)
	if err != nil || frame == nil {
		return
	}

	s.mu.RLock()
	peers := make([]*serverPeer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		p.mu.Lock()
		_, _ = p.conn.Write(frame)
		p.mu.Unlock()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
