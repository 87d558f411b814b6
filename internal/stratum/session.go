package stratum

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/kaspool/core/internal/pool"
	"github.com/kaspool/core/pkg/log"
)

// worker identifies a single (address, workerName) pair authorized on a
// session, per §3's Session.workers set.
type worker struct {
	address    string
	workerName string
}

// Session represents a Stratum mining session
type Session struct {
	id     string
	conn   net.Conn
	logger *log.Logger

	// Session state
	subscribed bool
	authorized bool
	agent      string
	address    string
	workers    map[worker]struct{}
	extraNonce string // 4 random bytes, hex-encoded, set once on first authorize
	encoding   pool.Encoding
	difficulty float64

	// Vardiff tracking
	lastShareTime time.Time
	shareCount    int64
	vardiffWindow time.Duration
	vardiffTarget time.Duration

	// Connection management
	readTimeout  time.Duration
	writeTimeout time.Duration

	// Channels for communication
	outbound chan []byte
	done     chan struct{}

	// Synchronization
	mu sync.RWMutex
}

var _ pool.NotifyTarget = (*Session)(nil)

// NewSession creates a new Stratum session
func NewSession(id string, conn net.Conn, logger *log.Logger, readTimeout, writeTimeout time.Duration) *Session {
	return &Session{
		id:            id,
		conn:          conn,
		logger:        logger.WithFields("session_id", id, "remote_addr", conn.RemoteAddr().String()),
		workers:       make(map[worker]struct{}),
		difficulty:    1.0,
		vardiffWindow: 90 * time.Second,
		vardiffTarget: 30 * time.Second,
		readTimeout:   readTimeout,
		writeTimeout:  writeTimeout,
		outbound:      make(chan []byte, 100),
		done:          make(chan struct{}),
	}
}

// Start begins processing the session
func (s *Session) Start(ctx context.Context, handler MessageHandler) error {
	s.logger.LogConnection("connected", s.conn.RemoteAddr().String())

	go s.writeLoop(ctx)

	return s.readLoop(ctx, handler)
}

// readLoop handles incoming messages from the client
func (s *Session) readLoop(ctx context.Context, handler MessageHandler) error {
	defer s.Close()

	scanner := bufio.NewScanner(s.conn)
	scanner.Buffer(make([]byte, 4096), 4096)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			s.logger.WithError(err).Error("failed to set read deadline")
			return err
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				s.logger.WithError(err).Error("scanner error")
				return err
			}
			s.logger.Info("client disconnected")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		s.logger.LogStratumMessage("received", string(line))

		msg, err := ParseMessage(line)
		if err != nil {
			s.logger.WithError(err).Error("failed to parse message")
			if sendErr := s.SendError(nil, ErrorInternal); sendErr != nil {
				s.logger.WithError(sendErr).Error("failed to send parse error")
			}
			continue
		}

		if err := handler.HandleMessage(ctx, s, msg); err != nil {
			s.logger.WithError(err).Error("failed to handle message")
		}
	}
}

// writeLoop handles outbound messages to the client
func (s *Session) writeLoop(ctx context.Context) {
	defer func() {
		if err := s.conn.Close(); err != nil {
			s.logger.Error("failed to close connection", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case data := <-s.outbound:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				s.logger.WithError(err).Error("failed to set write deadline")
				return
			}

			data = append(data, '\n')

			if _, err := s.conn.Write(data); err != nil {
				s.logger.WithError(err).Error("failed to write message")
				return
			}

			s.logger.LogStratumMessage("sent", string(data[:len(data)-1]))
		}
	}
}

// SendMessage sends a message to the client
func (s *Session) SendMessage(msg *Message) error {
	data, err := MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case s.outbound <- data:
		return nil
	case <-s.done:
		return fmt.Errorf("session closed")
	default:
		return fmt.Errorf("outbound channel full")
	}
}

// SendResponse sends a response message
func (s *Session) SendResponse(id any, result any) error {
	return s.SendMessage(NewResponse(id, result))
}

// SendError sends an error response using one of the fixed Stratum error
// codes.
func (s *Session) SendError(id any, code int) error {
	return s.SendMessage(NewErrorResponse(id, code))
}

// SendNotification sends a notification message
func (s *Session) SendNotification(method string, params []any) error {
	return s.SendMessage(NewNotification(method, params))
}

// Notify implements pool.NotifyTarget: sends mining.notify([jobId, payload]).
func (s *Session) Notify(jobID, payload string) error {
	return s.SendNotification("mining.notify", []any{jobID, payload})
}

// Close closes the session
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
		close(s.done)
		s.logger.LogConnection("disconnected", s.conn.RemoteAddr().String())
	}
}

// ID returns the unique session identifier, implementing pool.NotifyTarget.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the remote address of the client connection.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// IsSubscribed returns whether the session has completed mining.subscribe.
func (s *Session) IsSubscribed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed
}

// SetSubscribed sets the subscription status of the session.
func (s *Session) SetSubscribed(subscribed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = subscribed
}

// SetAgent records the user agent string reported at mining.subscribe and
// infers a notify payload encoding from it (§4.5: Bitmain-family firmware
// needs a deterministic canonical payload shape).
func (s *Session) SetAgent(agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent = agent
	s.encoding = detectEncoding(agent)
}

// Agent returns the user agent string reported at mining.subscribe.
func (s *Session) Agent() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agent
}

// Encoding implements pool.NotifyTarget.
func (s *Session) Encoding() pool.Encoding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encoding
}

// IsAuthorized returns whether the session has completed mining.authorize.
func (s *Session) IsAuthorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized
}

// Authorize registers address/workerName as an authorized worker on this
// session, generating the session's extranonce on first authorize (§3: "4
// random bytes set once on authorize").
func (s *Session) Authorize(address, workerName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.extraNonce == "" {
		buf := make([]byte, 4)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate extranonce: %w", err)
		}
		s.extraNonce = hex.EncodeToString(buf)
	}

	s.authorized = true
	s.address = address
	s.workers[worker{address: address, workerName: workerName}] = struct{}{}

	return s.extraNonce, nil
}

// Address implements pool.NotifyTarget: the address of the first worker
// authorized on the session.
func (s *Session) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.address
}

// HasWorker reports whether (address, workerName) was authorized on this
// session.
func (s *Session) HasWorker(address, workerName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.workers[worker{address: address, workerName: workerName}]
	return ok
}

// ExtraNonce returns the session's 4-byte extranonce, hex-encoded.
func (s *Session) ExtraNonce() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.extraNonce
}

// Difficulty returns the current difficulty target for this session.
func (s *Session) Difficulty() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.difficulty
}

// SetDifficulty sets the difficulty target for this session.
func (s *Session) SetDifficulty(difficulty float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.difficulty = difficulty
}

// RecordShare records a share submission for vardiff calculation
func (s *Session) RecordShare() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.lastShareTime = now
	s.shareCount++
}

// ShouldAdjustDifficulty checks if difficulty should be adjusted based on vardiff
func (s *Session) ShouldAdjustDifficulty() (bool, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.shareCount == 0 {
		return false, s.difficulty
	}

	timeSinceLastShare := time.Since(s.lastShareTime)
	if timeSinceLastShare < s.vardiffWindow {
		return false, s.difficulty
	}

	avgShareTime := timeSinceLastShare / time.Duration(s.shareCount)

	targetRatio := avgShareTime.Seconds() / s.vardiffTarget.Seconds()
	newDifficulty := s.difficulty * targetRatio

	const minAdjustment = 0.1
	if targetRatio > 1+minAdjustment || targetRatio < 1-minAdjustment {
		return true, newDifficulty
	}

	return false, s.difficulty
}

// detectEncoding infers the mining.notify payload encoding from a reported
// user agent string.
func detectEncoding(agent string) pool.Encoding {
	lower := strings.ToLower(agent)
	for _, marker := range []string{"bmminer", "cgminer-bitmain", "antminer"} {
		if strings.Contains(lower, marker) {
			return pool.EncodingBitmain
		}
	}
	return pool.EncodingDefault
}

// MessageHandler interface for handling Stratum messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, session *Session, msg *Message) error
}
