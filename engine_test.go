package credo

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	internalaudit "github.com/hexavel/credo/internal/audit"
	"github.com/hexavel/credo/internal/limiters"
	internalmetrics "github.com/hexavel/credo/internal/metrics"
	"github.com/hexavel/credo/jwt"
	"github.com/hexavel/credo/password"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestHasher(t *testing.T) *password.Hasher {
	t.Helper()

	hasher, err := password.NewHasher(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   16,
	})
	if err != nil {
		t.Fatalf("hasher init failed: %v", err)
	}
	return hasher
}

func newTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	return priv
}

func newTestEngine(t *testing.T, store CredentialStore) *Engine {
	t.Helper()

	hasher := newTestHasher(t)

	manager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: jwt.MethodEd25519,
		PrivateKey:    newTestKey(t),
	})
	if err != nil {
		t.Fatalf("jwt manager init failed: %v", err)
	}

	decoy, err := newDecoyHash(hasher)
	if err != nil {
		t.Fatalf("decoy hash failed: %v", err)
	}

	return &Engine{
		config: Config{
			JWT: JWTConfig{AccessTTL: 15 * time.Minute},
			Recovery: RecoveryConfig{
				TokenTTL:          time.Hour,
				MinPasswordLength: 8,
				DeliveryTimeout:   time.Second,
			},
		},
		store:      store,
		notifier:   NoOpNotifier{},
		hasher:     hasher,
		jwtManager: manager,
		metrics:    internalmetrics.New(internalmetrics.Config{Enabled: true}),
		decoyHash:  decoy,
		now:        time.Now,
	}
}

func withTestLoginLimiter(e *Engine, rdb *redis.Client, maxAttempts int) {
	e.loginLimiter = limiters.NewLoginLimiter(rdb, limiters.LoginConfig{
		Enabled:     true,
		MaxAttempts: maxAttempts,
		Cooldown:    time.Minute,
	})
}

func withTestRecoveryLimiter(e *Engine, rdb *redis.Client, maxAttempts int) {
	e.recoveryLimiter = limiters.NewRecoveryLimiter(rdb, limiters.RecoveryConfig{
		EnableEmailThrottle: true,
		EnableIPThrottle:    true,
		Window:              time.Minute,
		MaxAttempts:         maxAttempts,
	})
}

func withTestAudit(t *testing.T, e *Engine) *recordingSink {
	t.Helper()

	sink := &recordingSink{}
	e.dispatcher = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    true,
		BufferSize: 64,
		DropIfFull: false,
	}, sink)
	t.Cleanup(e.Close)
	return sink
}

type recordingSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) byType(eventType string) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AuditEvent
	for _, event := range s.events {
		if event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

// mockCredentialStore is an in-memory CredentialStore with the same CAS
// semantics real implementations must provide. Per-method error overrides
// simulate backend outages, and lookup counters let tests assert call order.
type mockCredentialStore struct {
	mu         sync.Mutex
	creds      map[string]Credential
	byUsername map[string]string
	byEmail    map[string]string
	pending    map[string]RecoveryToken

	findByUsernameErr error
	findByEmailErr    error
	findByTokenErr    error
	setPendingErr     error
	consumeErr        error
	findByTokenCalls  int
	findByEmailCalls  int
	setPendingCalls   int
	consumeCalls      int
}

func newMockStore() *mockCredentialStore {
	return &mockCredentialStore{
		creds:      make(map[string]Credential),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		pending:    make(map[string]RecoveryToken),
	}
}

func (s *mockCredentialStore) put(cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.UserID] = cred
	s.byUsername[cred.Username] = cred.UserID
	s.byEmail[cred.Email] = cred.UserID
}

func (s *mockCredentialStore) credential(userID string) Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds[userID]
}

func (s *mockCredentialStore) pendingToken(userID string) (RecoveryToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.pending[userID]
	return token, ok
}

func (s *mockCredentialStore) FindByUsername(_ context.Context, username string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findByUsernameErr != nil {
		return Credential{}, s.findByUsernameErr
	}
	id, ok := s.byUsername[username]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return s.creds[id], nil
}

func (s *mockCredentialStore) FindByEmail(_ context.Context, email string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.findByEmailCalls++
	if s.findByEmailErr != nil {
		return Credential{}, s.findByEmailErr
	}
	id, ok := s.byEmail[email]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return s.creds[id], nil
}

func (s *mockCredentialStore) FindByPendingToken(_ context.Context, code string) (Credential, RecoveryToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.findByTokenCalls++
	if s.findByTokenErr != nil {
		return Credential{}, RecoveryToken{}, s.findByTokenErr
	}
	for userID, token := range s.pending {
		if token.Code == code {
			return s.creds[userID], token, nil
		}
	}
	return Credential{}, RecoveryToken{}, ErrCredentialNotFound
}

func (s *mockCredentialStore) SetPendingToken(_ context.Context, userID string, token RecoveryToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setPendingCalls++
	if s.setPendingErr != nil {
		return s.setPendingErr
	}
	if _, ok := s.creds[userID]; !ok {
		return ErrCredentialNotFound
	}
	s.pending[userID] = token
	return nil
}

func (s *mockCredentialStore) ClearPendingTokenAndSetPassword(_ context.Context, userID, code, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consumeCalls++
	if s.consumeErr != nil {
		return s.consumeErr
	}
	token, ok := s.pending[userID]
	if !ok || token.Code != code {
		return ErrCredentialNotFound
	}
	delete(s.pending, userID)

	cred := s.creds[userID]
	cred.PasswordHash = newHash
	s.creds[userID] = cred
	return nil
}

// captureNotifier records deliveries and can be told to fail or stall.
type captureNotifier struct {
	mu    sync.Mutex
	codes []string
	email string

	failWith error
	blockFor time.Duration
}

func (n *captureNotifier) Deliver(ctx context.Context, email, code string) error {
	if n.blockFor > 0 {
		select {
		case <-time.After(n.blockFor):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if n.failWith != nil {
		return n.failWith
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.email = email
	n.codes = append(n.codes, code)
	return nil
}

func (n *captureNotifier) lastCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.codes) == 0 {
		return ""
	}
	return n.codes[len(n.codes)-1]
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.codes)
}

func seedUser(t *testing.T, e *Engine, store *mockCredentialStore, plainPassword string) Credential {
	t.Helper()

	hash, err := e.hasher.Hash(plainPassword)
	if err != nil {
		t.Fatalf("seed hash failed: %v", err)
	}

	cred := Credential{
		UserID:       "u1",
		Username:     "alice",
		Email:        "alice@example.com",
		Role:         "admin",
		PasswordHash: hash,
	}
	store.put(cred)
	return cred
}
