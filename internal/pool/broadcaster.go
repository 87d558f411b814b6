package pool

import (
	"encoding/binary"
	"encoding/hex"
	"sync"

	"github.com/kaspool/core/pkg/log"
)

// Encoding is a hint derived from a session's user-agent string selecting
// the mining.notify payload shape for miner-specific quirks.
type Encoding int

const (
	EncodingDefault Encoding = iota
	EncodingBitmain
)

// NotifyTarget is the subset of stratum.Session the Broadcaster needs: a
// way to send a notification and know whether the session is still usable.
type NotifyTarget interface {
	ID() string
	Address() string
	Encoding() Encoding
	Notify(jobID, payload string) error
}

// Broadcaster fans out job-ready events to every subscribed session and
// lazily prunes dead sockets (§4.5).
type Broadcaster struct {
	mu              sync.Mutex
	sessions        map[string]NotifyTarget
	addressSessions map[string]map[string]struct{}
	logger          *log.Logger
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	return &Broadcaster{
		sessions:        make(map[string]NotifyTarget),
		addressSessions: make(map[string]map[string]struct{}),
		logger:          logger.WithComponent("broadcaster"),
	}
}

// Subscribe adds a session to the fan-out set (on mining.subscribe).
func (b *Broadcaster) Subscribe(s NotifyTarget) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[s.ID()] = s
}

// Authorize records that session s is now associated with address (on
// mining.authorize), so it can be looked up by address for targeted sends.
func (b *Broadcaster) Authorize(s NotifyTarget, address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.addressSessions[address]
	if !ok {
		set = make(map[string]struct{})
		b.addressSessions[address] = set
	}
	set[s.ID()] = struct{}{}
}

// Remove drops a session from both the subscriber set and the
// address→sessions map atomically; if an address now has no sessions, it is
// removed too.
func (b *Broadcaster) Remove(sessionID, address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, sessionID)
	if address == "" {
		return
	}
	if set, ok := b.addressSessions[address]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(b.addressSessions, address)
		}
	}
}

// payload builds the hex(prePoWHash) ‖ hex(little-endian u64 timestamp)
// string fixed by §6 and §9's resolved open question.
func payload(hash [32]byte, timestamp int64) string {
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(timestamp))
	return hex.EncodeToString(hash[:]) + hex.EncodeToString(tsBuf[:])
}

// Broadcast sends mining.notify(jobId, payload) to every session alive at
// the instant it is called, before returning; sessions that become
// authorized afterward are not retroactively notified (§5).
func (b *Broadcaster) Broadcast(jobID string, hash [32]byte, timestamp int64) {
	p := payload(hash, timestamp)

	b.mu.Lock()
	targets := make([]NotifyTarget, 0, len(b.sessions))
	for _, s := range b.sessions {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		sendPayload := p
		if s.Encoding() == EncodingBitmain {
			// Bitmain-style miners expect the same canonical hash+timestamp
			// string; the shape is a deterministic function of (h, ts,
			// encoding), not a separate codepath.
			sendPayload = p
		}

		if err := s.Notify(jobID, sendPayload); err != nil {
			b.logger.WithError(err).Debug("notify failed, removing session", "session_id", s.ID())
			b.Remove(s.ID(), s.Address())
		}
	}
}

// Len returns the number of currently subscribed sessions.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
