package checkin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNotOpen         = errors.New("check-in session is not open")
	ErrBadTransition   = errors.New("invalid check-in transition")
	ErrScannerStopped  = errors.New("scanner is stopped")
	ErrSessionNotFound = errors.New("check-in session not found")
)

// Scanner is a camera or other decoding device. Start begins delivering
// decoded payloads to onDecode until Stop.
type Scanner interface {
	Start(ctx context.Context, onDecode func(code string)) error
	Pause()
	Resume()
	Stop()
}

// Checker verifies one decoded code.
type Checker interface {
	Verify(ctx context.Context, businessID, staffID, code string) Result
}

// Session drives one scanner through idle, scanning, verifying and a
// verified or rejected outcome. At most one verification runs at a time.
type Session struct {
	businessID string
	staffID    string
	scanner    Scanner
	checker    Checker
	fsm        *FSM
	logger     *zerolog.Logger

	onVerified func(Result)
	onSuccess  func(Result)

	mu        sync.Mutex
	state     State
	last      Result
	started   bool
	cancel    context.CancelFunc
	ctx       context.Context
	updatedAt time.Time
}

func NewSession(businessID, staffID string, scanner Scanner, checker Checker, logger *zerolog.Logger) *Session {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "checkin_session").Str("business_id", businessID).Logger()
	return &Session{
		businessID: businessID,
		staffID:    staffID,
		scanner:    scanner,
		checker:    checker,
		fsm:        NewFSM(),
		logger:     &l,
		state:      StateIdle,
		updatedAt:  time.Now(),
	}
}

// OnVerified sets the caller callback fired after a successful verification.
func (s *Session) OnVerified(fn func(Result)) *Session {
	s.onVerified = fn
	return s
}

// OnSuccess sets the success notifier.
func (s *Session) OnSuccess(fn func(Result)) *Session {
	s.onSuccess = fn
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Last returns the most recent verification outcome.
func (s *Session) Last() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Open starts the scanner. Opening an already open session is a no-op.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.setState(StateScanning)
	sctx := s.ctx
	s.mu.Unlock()

	if err := s.scanner.Start(sctx, s.Decode); err != nil {
		s.Close()
		return fmt.Errorf("start scanner: %w", err)
	}
	s.logger.Debug().Msg("Scanner opened")
	return nil
}

// Decode handles one decoded payload. Payloads arriving while not scanning
// are dropped. The scanner stays paused until ScanAnother.
func (s *Session) Decode(code string) {
	s.mu.Lock()
	if state := s.state; state != StateScanning {
		s.mu.Unlock()
		s.logger.Debug().Str("state", string(state)).Msg("Decode dropped")
		return
	}
	s.setState(StateVerifying)
	ctx := s.ctx
	s.mu.Unlock()

	s.scanner.Pause()
	res := s.checker.Verify(ctx, s.businessID, s.staffID, code)

	s.mu.Lock()
	if s.state != StateVerifying {
		// closed while the lookup was running
		s.mu.Unlock()
		return
	}
	s.last = res
	s.setState(res.State)
	s.mu.Unlock()

	if res.State != StateVerified {
		return
	}
	if s.onVerified != nil {
		s.onVerified(res)
	}
	if s.onSuccess != nil {
		s.onSuccess(res)
	}
}

// ScanAnother restarts scanning after an outcome.
func (s *Session) ScanAnother() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return ErrNotOpen
	}
	if !s.fsm.CanTransition(s.state, StateScanning) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, s.state, StateScanning)
	}
	s.last = Result{}
	s.setState(StateScanning)
	s.scanner.Resume()
	return nil
}

// Close stops and releases the scanner from any state.
func (s *Session) Close() {
	s.mu.Lock()
	started := s.started
	s.started = false
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.setState(StateIdle)
	s.mu.Unlock()

	if started {
		s.scanner.Stop()
		s.logger.Debug().Msg("Scanner released")
	}
}

func (s *Session) setState(to State) {
	if to != StateIdle && !s.fsm.CanTransition(s.state, to) {
		s.logger.Warn().Str("from", string(s.state)).Str("to", string(to)).Msg("Unexpected check-in transition")
	}
	s.state = to
	s.updatedAt = time.Now()
}

func (s *Session) expired(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.updatedAt) > timeout
}

// ManualScanner is a Scanner fed from outside the process, for example by a
// door device posting decoded payloads over HTTP.
type ManualScanner struct {
	mu       sync.Mutex
	onDecode func(string)
	paused   bool
	running  bool
}

func (m *ManualScanner) Start(ctx context.Context, onDecode func(string)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDecode = onDecode
	m.running = true
	m.paused = false
	return nil
}

func (m *ManualScanner) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

func (m *ManualScanner) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

func (m *ManualScanner) Stop() {
	m.mu.Lock()
	m.running = false
	m.onDecode = nil
	m.mu.Unlock()
}

// Feed delivers one payload. Payloads fed while paused are ignored.
func (m *ManualScanner) Feed(code string) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrScannerStopped
	}
	fn, paused := m.onDecode, m.paused
	m.mu.Unlock()

	if !paused {
		fn(code)
	}
	return nil
}

// SessionStore keeps one session per staff member and business.
type SessionStore struct {
	sessions map[string]*Session
	scanners map[string]*ManualScanner
	mu       sync.Mutex
	timeout  time.Duration
	factory  func(businessID, staffID string, scanner Scanner) *Session
}

// NewSessionStore creates a store whose idle sessions expire after timeout.
func NewSessionStore(timeout time.Duration, factory func(businessID, staffID string, scanner Scanner) *Session) *SessionStore {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		scanners: make(map[string]*ManualScanner),
		timeout:  timeout,
		factory:  factory,
	}
}

func sessionKey(businessID, staffID string) string {
	return businessID + "|" + staffID
}

// Open returns the open session for the pair, creating it if needed.
func (ss *SessionStore) Open(ctx context.Context, businessID, staffID string) (*Session, error) {
	key := sessionKey(businessID, staffID)

	ss.mu.Lock()
	session, ok := ss.sessions[key]
	if !ok || session.expired(ss.timeout) {
		if ok {
			session.Close()
		}
		scanner := &ManualScanner{}
		session = ss.factory(businessID, staffID, scanner)
		ss.sessions[key] = session
		ss.scanners[key] = scanner
	}
	ss.mu.Unlock()

	return session, session.Open(ctx)
}

// Get returns the session and its scanner.
func (ss *SessionStore) Get(businessID, staffID string) (*Session, *ManualScanner, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	key := sessionKey(businessID, staffID)
	session, ok := ss.sessions[key]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}
	return session, ss.scanners[key], nil
}

// Close closes and forgets the session.
func (ss *SessionStore) Close(businessID, staffID string) {
	key := sessionKey(businessID, staffID)
	ss.mu.Lock()
	session, ok := ss.sessions[key]
	delete(ss.sessions, key)
	delete(ss.scanners, key)
	ss.mu.Unlock()

	if ok {
		session.Close()
	}
}

// Cleanup closes expired sessions and returns how many were removed.
func (ss *SessionStore) Cleanup() int {
	ss.mu.Lock()
	var expired []*Session
	for key, session := range ss.sessions {
		if session.expired(ss.timeout) {
			expired = append(expired, session)
			delete(ss.sessions, key)
			delete(ss.scanners, key)
		}
	}
	ss.mu.Unlock()

	for _, session := range expired {
		session.Close()
	}
	return len(expired)
}
