package main

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/kaspool/core/internal/config"
	"github.com/kaspool/core/internal/stratum"
	"github.com/kaspool/core/pkg/log"
)

// stratumServer accepts miner connections and dispatches each one to the
// shared stratum.SessionManager, which is the sole pool-core collaborator
// every session's messages are routed through.
type stratumServer struct {
	cfg      *config.Config
	logger   *log.Logger
	listener net.Listener
	handler  *stratum.SessionManager

	mu       sync.RWMutex
	sessions map[string]*stratum.Session
	wg       sync.WaitGroup
}

// Start accepts connections until ctx is cancelled or the listener is
// closed by Shutdown.
func (s *stratumServer) Start(ctx context.Context) error {
	s.logger.Info("stratum server listening", "address", s.listener.Addr().String())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				s.logger.WithError(err).Warn("failed to accept connection")
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(ctx, conn)
	}
}

func (s *stratumServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.WithError(err).Debug("error closing connection")
		}
	}()

	sessionID := fmt.Sprintf("session_%d", time.Now().UnixNano())
	session := stratum.NewSession(sessionID, conn, s.logger, s.cfg.ReadTimeout, s.cfg.WriteTimeout)

	s.mu.Lock()
	s.sessions[sessionID] = session
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sessionID)
		s.mu.Unlock()
		s.handler.Remove(session)
	}()

	if err := session.Start(ctx, s.handler); err != nil && ctx.Err() == nil {
		s.logger.WithError(err).Debug("session ended")
	}
}

// Shutdown closes the listener and every live session, then waits for their
// handler goroutines to return or ctx to expire.
func (s *stratumServer) Shutdown(ctx context.Context) {
	if err := s.listener.Close(); err != nil {
		s.logger.WithError(err).Debug("error closing stratum listener")
	}

	s.mu.RLock()
	for _, session := range s.sessions {
		session.Close()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("stratum shutdown timed out waiting for sessions")
	}
}
