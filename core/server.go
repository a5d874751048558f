package core

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/Dyastin-0/gostash/config"
	"github.com/Dyastin-0/gostash/logger"
	"github.com/Dyastin-0/gostash/store"
	"golang.org/x/net/netutil"
)

// Server accepts connections and runs one Session per connection. Sessions
// are tracked so that cancelling the serve context closes and joins them.
type Server struct {
	addr     string
	store    *store.Store
	engine   *Engine
	log      logger.Logger
	maxConns int
	idle     time.Duration

	mu       sync.Mutex
	ln       net.Listener
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewServer(cfg *config.Config, st *store.Store, log logger.Logger) *Server {
	return &Server{
		addr:     cfg.Addr,
		store:    st,
		engine:   NewEngine(cfg.ChunkSize),
		log:      log,
		maxConns: cfg.MaxConns,
		idle:     cfg.IdleTimeout,
		sessions: make(map[string]*Session),
	}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return newError(KindConnection, "listen", err)
	}

	return s.Serve(ctx, ln)
}

// Serve blocks until ctx is cancelled or ln is closed, then waits for every
// session to end.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.log.
		WithStr("addr", ln.Addr().String()).
		WithStr("root", s.store.Root()).
		WithInt("max_conns", s.maxConns).
		Info("server started")

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	defer s.shutdown()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info("server stopped accepting")
				return nil
			}

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(2*delay, time.Second)
			}

			s.log.WithErr(err).Warn("accept error")
			time.Sleep(delay)
			continue
		}

		delay = 0
		s.spawn(conn)
	}
}

// Addr is the listening address, or nil before Serve is called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Active returns the number of live sessions.
func (s *Server) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

func (s *Server) spawn(conn net.Conn) {
	session := NewSession(conn, s.store, s.engine, s.log)
	session.idle = s.idle

	s.mu.Lock()
	s.sessions[session.ID()] = session
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrack(session.ID())

		if err := session.Run(); err != nil {
			s.log.WithStr("session", session.ID()).WithErr(err).Error("session ended with error")
		}
	}()
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Server) shutdown() {
	s.mu.Lock()
	for _, session := range s.sessions {
		session.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
