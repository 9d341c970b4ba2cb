package auth

import (
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bilregistret/internal/config"
	"bilregistret/internal/errors"
	"bilregistret/internal/logging"
)

// Session is a signed-in user
type Session struct {
	User      string    `json:"user"`
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type sessionRecord struct {
	Session
	hash string
}

// Sessions issues and checks opaque session tokens. Only bcrypt hashes of
// tokens are kept. Every login and logout resolves the redirect gate and
// runs the OnChange hooks, which is where user-scoped caches get dropped.
type Sessions struct {
	ttl    time.Duration
	cost   int
	gate   *RedirectGate
	logger *logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	byPrefix map[string]*sessionRecord
	hooks    []func()
}

// NewSessions creates an empty session table
func NewSessions(cfg config.AuthConfig, gate *RedirectGate, logger *logging.Logger) *Sessions {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ttl := time.Duration(cfg.SessionTtlMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Sessions{
		ttl:      ttl,
		cost:     bcrypt.DefaultCost,
		gate:     gate,
		logger:   logger,
		now:      time.Now,
		byPrefix: make(map[string]*sessionRecord),
	}
}

// OnChange registers fn to run after every login and logout
func (s *Sessions) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Login opens a session for user and returns its token. The token is only
// ever returned here.
func (s *Sessions) Login(user string) (string, Session, error) {
	if user == "" {
		return "", Session{}, errors.NewLookupError(errors.InvalidArgument, "user is required", nil)
	}
	token, prefix, err := GenerateToken()
	if err != nil {
		return "", Session{}, errors.NewLookupError(errors.InternalError, "could not create session", err)
	}
	hash, err := HashToken(token, s.cost)
	if err != nil {
		return "", Session{}, errors.NewLookupError(errors.InternalError, "could not create session", err)
	}

	now := s.now()
	sess := Session{User: user, Prefix: prefix, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}
	s.mu.Lock()
	s.byPrefix[prefix] = &sessionRecord{Session: sess, hash: hash}
	s.mu.Unlock()

	s.logger.Info("Session opened", map[string]interface{}{
		"user":  user,
		"token": MaskToken(token),
	})
	s.changed()
	return token, sess, nil
}

// Verify returns the session behind token. Unknown, malformed and expired
// tokens are Unauthorized.
func (s *Sessions) Verify(token string) (Session, error) {
	if !IsValidTokenFormat(token) {
		return Session{}, errors.NewUnauthorized("session", 401)
	}
	prefix := TokenLookupPrefix(token)

	s.mu.Lock()
	rec, ok := s.byPrefix[prefix]
	if ok && s.now().After(rec.ExpiresAt) {
		delete(s.byPrefix, prefix)
		ok = false
	}
	s.mu.Unlock()

	if !ok || !VerifyToken(token, rec.hash) {
		return Session{}, errors.NewUnauthorized("session", 401)
	}
	return rec.Session, nil
}

// Logout closes the session behind token.
func (s *Sessions) Logout(token string) error {
	sess, err := s.Verify(token)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.byPrefix, sess.Prefix)
	s.mu.Unlock()

	s.logger.Info("Session closed", map[string]interface{}{"user": sess.User})
	s.changed()
	return nil
}

// Len returns the number of stored sessions, expired or not
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPrefix)
}

func (s *Sessions) changed() {
	if s.gate != nil {
		s.gate.Resolve()
	}
	s.mu.Lock()
	hooks := append([]func(){}, s.hooks...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
