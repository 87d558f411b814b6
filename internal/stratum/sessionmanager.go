package stratum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/kaspool/core/internal/pool"
	poolerrors "github.com/kaspool/core/pkg/errors"
	"github.com/kaspool/core/pkg/log"
)

// MaxTarget is the consensus maximum PoW target (difficulty-1 target),
// against which a session's advertised difficulty is scaled down to produce
// the target a submitted share must clear (§4.4). Kaspa inherits the
// 256-bit, big-endian target convention common to block-DAG proof-of-work
// designs in this family.
var MaxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// SessionManager dispatches mining.subscribe/authorize/submit requests from
// stratum sessions onto the pool core (§4.3).
type SessionManager struct {
	validator    pool.AddressValidator
	ledger       *pool.ShareLedger
	broadcaster  *pool.Broadcaster
	initialDiff  float64
	logger       *log.Logger

	mu       sync.RWMutex
	byID     map[string]*Session
	byAddr   map[string]map[string]*Session
}

var _ MessageHandler = (*SessionManager)(nil)

// NewSessionManager wires a dispatcher for the given address validator,
// share ledger and broadcaster, assigning initialDiff to every newly
// authorized session.
func NewSessionManager(validator pool.AddressValidator, ledger *pool.ShareLedger, broadcaster *pool.Broadcaster, initialDiff float64, logger *log.Logger) *SessionManager {
	return &SessionManager{
		validator:   validator,
		ledger:      ledger,
		broadcaster: broadcaster,
		initialDiff: initialDiff,
		logger:      logger.WithComponent("session_manager"),
		byID:        make(map[string]*Session),
		byAddr:      make(map[string]map[string]*Session),
	}
}

// HandleMessage implements MessageHandler, dispatching by method name.
func (m *SessionManager) HandleMessage(ctx context.Context, s *Session, msg *Message) error {
	if !msg.IsRequest() {
		return nil
	}

	switch msg.Method {
	case "mining.subscribe":
		return m.handleSubscribe(s, msg)
	case "mining.authorize":
		return m.handleAuthorize(s, msg)
	case "mining.submit":
		return m.handleSubmit(s, msg)
	default:
		s.logger.Warn("unknown stratum method, closing session", "method", msg.Method)
		s.Close()
		return fmt.Errorf("unknown method: %s", msg.Method)
	}
}

func (m *SessionManager) handleSubscribe(s *Session, msg *Message) error {
	req, err := ParseSubscribeRequest(msg.Params)
	if err != nil {
		s.logger.Warn("malformed subscribe request, closing session", "error", err)
		s.Close()
		return err
	}

	s.SetAgent(req.UserAgent)
	s.SetSubscribed(true)

	m.mu.Lock()
	m.byID[s.ID()] = s
	m.mu.Unlock()

	m.broadcaster.Subscribe(s)

	return s.SendResponse(msg.ID, true)
}

func (m *SessionManager) handleAuthorize(s *Session, msg *Message) error {
	req, err := ParseAuthorizeRequest(msg.Params)
	if err != nil {
		s.logger.Warn("malformed authorize request, closing session", "error", err)
		s.Close()
		return err
	}

	address, workerName, ok := splitIdentity(req.Identity)
	if !ok || !m.validator.Validate(address) {
		return s.SendError(msg.ID, ErrorUnauthorized)
	}

	extraNonce, err := s.Authorize(address, workerName)
	if err != nil {
		return s.SendError(msg.ID, ErrorInternal)
	}

	m.mu.Lock()
	set, ok := m.byAddr[address]
	if !ok {
		set = make(map[string]*Session)
		m.byAddr[address] = set
	}
	set[s.ID()] = s
	m.mu.Unlock()

	s.SetDifficulty(m.initialDiff)
	m.broadcaster.Authorize(s, address)

	if err := s.SendNotification("set_extranonce", []any{extraNonce}); err != nil {
		return err
	}
	if err := s.SendNotification("mining.set_difficulty", []any{s.Difficulty()}); err != nil {
		return err
	}

	return s.SendResponse(msg.ID, true)
}

func (m *SessionManager) handleSubmit(s *Session, msg *Message) error {
	req, err := ParseSubmitRequest(msg.Params)
	if err != nil {
		s.logger.Warn("malformed submit request, closing session", "error", err)
		s.Close()
		return err
	}

	address, workerName, ok := splitIdentity(req.Identity)
	if !ok || !s.HasWorker(address, workerName) {
		return s.SendError(msg.ID, ErrorUnauthorized)
	}

	result, err := m.ledger.Submit(address, workerName, req.JobID, req.NonceHex, s.Difficulty(), MaxTarget)
	if err != nil {
		s.logger.WithError(err).Debug("share rejected", "job_id", req.JobID)
		return s.SendError(msg.ID, stratumErrorCode(err))
	}

	s.RecordShare()
	if adjust, newDiff := s.ShouldAdjustDifficulty(); adjust {
		s.SetDifficulty(newDiff)
		if err := s.SendNotification("mining.set_difficulty", []any{newDiff}); err != nil {
			s.logger.WithError(err).Warn("failed to send vardiff retarget")
		}
	}

	if result.IsBlock {
		s.logger.Info("block accepted by node", "block_hash", result.BlockHash, "job_id", req.JobID)
	}

	return s.SendResponse(msg.ID, true)
}

// Remove drops a session from both index maps when its connection dies.
func (m *SessionManager) Remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, s.ID())
	if addr := s.Address(); addr != "" {
		if set, ok := m.byAddr[addr]; ok {
			delete(set, s.ID())
			if len(set) == 0 {
				delete(m.byAddr, addr)
			}
		}
	}
	m.broadcaster.Remove(s.ID(), s.Address())
}

// splitIdentity parses "address.workerName" into its two parts; workerName
// may be empty if no "." separator is present.
func splitIdentity(identity string) (address, workerName string, ok bool) {
	if identity == "" {
		return "", "", false
	}
	if idx := strings.IndexByte(identity, '.'); idx >= 0 {
		return identity[:idx], identity[idx+1:], true
	}
	return identity, "", true
}

// stratumErrorCode maps a pool-core ServiceError's semantic message onto the
// fixed Stratum wire error code (§6).
func stratumErrorCode(err error) int {
	switch {
	case poolerrors.IsType(err, poolerrors.ErrorTypeValidation):
		return classifyValidationError(err)
	case poolerrors.IsType(err, poolerrors.ErrorTypeProtocol):
		return ErrorInternal
	default:
		return ErrorInternal
	}
}

func classifyValidationError(err error) int {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "job-not-found"):
		return ErrorJobNotFound
	case strings.Contains(msg, "duplicate-share"):
		return ErrorDuplicateShare
	case strings.Contains(msg, "low-difficulty-share"):
		return ErrorLowDifficulty
	default:
		return ErrorInternal
	}
}
