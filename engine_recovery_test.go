package credo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hexavel/credo/internal"
)

func TestRecoveryEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")

	notifier := &captureNotifier{}
	engine.notifier = notifier

	message, err := engine.RequestRecovery(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}
	if message != RecoveryRequestMessage {
		t.Fatalf("unexpected message: %q", message)
	}

	code := notifier.lastCode()
	if len(code) != RecoveryCodeLength || !internal.IsNumericString(code) {
		t.Fatalf("expected %d-digit numeric code, got %q", RecoveryCodeLength, code)
	}

	token, ok := store.pendingToken("u1")
	if !ok {
		t.Fatal("expected pending token after request")
	}
	if token.Code != code || token.Email != "alice@example.com" {
		t.Fatalf("unexpected pending token: %+v", token)
	}
	if got, want := token.ExpiresAt.Sub(token.IssuedAt), engine.config.Recovery.TokenTTL; got != want {
		t.Fatalf("expected token lifetime %v, got %v", want, got)
	}

	if err := engine.ConfirmRecovery(ctx, code, "new-password-123"); err != nil {
		t.Fatalf("ConfirmRecovery failed: %v", err)
	}

	if _, ok := store.pendingToken("u1"); ok {
		t.Fatal("expected pending token to be cleared after confirmation")
	}

	updated := store.credential("u1")
	if ok, err := engine.hasher.Verify("new-password-123", updated.PasswordHash); err != nil || !ok {
		t.Fatalf("expected new password to verify, ok=%v err=%v", ok, err)
	}

	if _, err := engine.Login(ctx, "alice", "old-password-123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to be rejected, got %v", err)
	}
	if _, err := engine.Login(ctx, "alice", "new-password-123"); err != nil {
		t.Fatalf("expected login with new password to succeed, got %v", err)
	}
}

func TestRecoveryRequestUnknownEmailEnumerationSafe(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")

	knownMsg, err := engine.RequestRecovery(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("known email request failed: %v", err)
	}
	unknownMsg, err := engine.RequestRecovery(ctx, "missing@example.com")
	if err != nil {
		t.Fatalf("unknown email request should be enumeration-safe success, got %v", err)
	}

	if knownMsg != unknownMsg {
		t.Fatalf("messages differ: known=%q unknown=%q", knownMsg, unknownMsg)
	}
	if store.setPendingCalls != 1 {
		t.Fatalf("expected exactly one pending-token write, got %d", store.setPendingCalls)
	}
}

func TestRecoveryRequestTimingComparable(t *testing.T) {
	if testing.Short() {
		t.Skip("timing comparison skipped in short mode")
	}

	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")

	const rounds = 4

	measure := func(email string) time.Duration {
		var total time.Duration
		for i := 0; i < rounds; i++ {
			start := time.Now()
			if _, err := engine.RequestRecovery(ctx, email); err != nil {
				t.Fatalf("RequestRecovery(%q) failed: %v", email, err)
			}
			total += time.Since(start)
		}
		return total / rounds
	}

	knownAvg := measure("alice@example.com")
	unknownAvg := measure("missing@example.com")

	slow, fast := knownAvg, unknownAvg
	if unknownAvg > slow {
		slow, fast = unknownAvg, knownAvg
	}

	// Both branches answer behind the same randomized latency floor; allow
	// slack for jitter and scheduler noise but reject a clear oracle.
	if fast > 0 && slow > fast*3 {
		t.Fatalf("timing gap too large: known=%v unknown=%v", knownAvg, unknownAvg)
	}
	if fast < enumerationDelayBase {
		t.Fatalf("expected both paths to honor the %v floor, fastest averaged %v", enumerationDelayBase, fast)
	}
}

func TestRecoveryRequestNormalizesEmail(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")

	notifier := &captureNotifier{}
	engine.notifier = notifier

	if _, err := engine.RequestRecovery(ctx, "  Alice@Example.COM "); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}
	if _, ok := store.pendingToken("u1"); !ok {
		t.Fatal("expected normalized email to match the stored credential")
	}
	if notifier.email != "alice@example.com" {
		t.Fatalf("expected delivery to normalized address, got %q", notifier.email)
	}
}

func TestRecoveryRequestEmptyEmail(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)

	if _, err := engine.RequestRecovery(ctx, "   "); !errors.Is(err, ErrRecoveryInvalid) {
		t.Fatalf("expected ErrRecoveryInvalid, got %v", err)
	}
	if store.findByEmailCalls != 0 {
		t.Fatal("expected no store access for empty email")
	}
}

func TestRecoveryReissueSupersedesPriorCode(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")

	notifier := &captureNotifier{}
	engine.notifier = notifier

	if _, err := engine.RequestRecovery(ctx, "alice@example.com"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	first := notifier.lastCode()

	if _, err := engine.RequestRecovery(ctx, "alice@example.com"); err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	second := notifier.lastCode()

	if first == second {
		t.Skip("generated identical codes; supersession not observable this run")
	}

	if err := engine.ConfirmRecovery(ctx, first, "new-password-123"); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected superseded code to fail with ErrTokenInvalidOrExpired, got %v", err)
	}
	if err := engine.ConfirmRecovery(ctx, second, "new-password-123"); err != nil {
		t.Fatalf("expected latest code to succeed, got %v", err)
	}
}

func TestRecoveryCodeSingleUse(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")

	notifier := &captureNotifier{}
	engine.notifier = notifier

	if _, err := engine.RequestRecovery(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}
	code := notifier.lastCode()

	if err := engine.ConfirmRecovery(ctx, code, "new-password-123"); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	if err := engine.ConfirmRecovery(ctx, code, "newer-password-123"); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected replayed code to fail with ErrTokenInvalidOrExpired, got %v", err)
	}

	// The replayed code must not have touched the password again.
	updated := store.credential("u1")
	if ok, _ := engine.hasher.Verify("new-password-123", updated.PasswordHash); !ok {
		t.Fatal("expected password from first confirmation to remain")
	}
}

func TestRecoveryLazyExpiry(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")

	notifier := &captureNotifier{}
	engine.notifier = notifier

	base := time.Now()
	engine.now = func() time.Time { return base }

	if _, err := engine.RequestRecovery(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}
	code := notifier.lastCode()

	// One second past expiry: the stored token is still present but dead.
	engine.now = func() time.Time { return base.Add(engine.config.Recovery.TokenTTL + time.Second) }

	if err := engine.ConfirmRecovery(ctx, code, "new-password-123"); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected expired code to fail with ErrTokenInvalidOrExpired, got %v", err)
	}
	if _, ok := store.pendingToken("u1"); !ok {
		t.Fatal("expected expired token to remain stored (lazy expiry, no sweep)")
	}

	// Exactly at the boundary the token is no longer valid.
	engine.now = func() time.Time { return base.Add(engine.config.Recovery.TokenTTL) }
	if err := engine.ConfirmRecovery(ctx, code, "new-password-123"); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected boundary expiry to fail, got %v", err)
	}
}

func TestRecoveryConfirmValidatesBeforeStoreAccess(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")

	cases := []struct {
		name     string
		code     string
		password string
		want     error
	}{
		{"too short", "12345", "new-password-123", ErrInvalidTokenFormat},
		{"too long", "1234567", "new-password-123", ErrInvalidTokenFormat},
		{"non-numeric", "12a456", "new-password-123", ErrInvalidTokenFormat},
		{"empty", "", "new-password-123", ErrInvalidTokenFormat},
		{"weak password", "123456", "short", ErrWeakPassword},
	}

	for _, tc := range cases {
		if err := engine.ConfirmRecovery(ctx, tc.code, tc.password); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if store.findByTokenCalls != 0 {
		t.Fatalf("expected no store lookups before validation, got %d", store.findByTokenCalls)
	}
}

func TestRecoveryConcurrentConfirmSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")

	notifier := &captureNotifier{}
	engine.notifier = notifier

	if _, err := engine.RequestRecovery(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}
	code := notifier.lastCode()

	const racers = 4

	start := make(chan struct{})
	results := make(chan error, racers)
	var wg sync.WaitGroup

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results <- engine.ConfirmRecovery(ctx, code, "new-password-123")
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	success := 0
	invalid := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrTokenInvalidOrExpired):
			invalid++
		default:
			t.Fatalf("expected nil or ErrTokenInvalidOrExpired, got %v", err)
		}
	}

	if success != 1 || invalid != racers-1 {
		t.Fatalf("expected exactly one winner, got success=%d invalid=%d", success, invalid)
	}
}

func TestRecoveryDeliveryFailureNonFatal(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")

	engine.notifier = &captureNotifier{failWith: errors.New("smtp refused")}

	message, err := engine.RequestRecovery(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("expected delivery failure to be non-fatal, got %v", err)
	}
	if message != RecoveryRequestMessage {
		t.Fatalf("unexpected message: %q", message)
	}

	token, ok := store.pendingToken("u1")
	if !ok || !token.Live(time.Now()) {
		t.Fatal("expected pending token to remain valid after delivery failure")
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricRecoveryDeliveryFailure] != 1 {
		t.Fatalf("expected 1 delivery failure counted, got %d", snap.Counters[MetricRecoveryDeliveryFailure])
	}
}

func TestRecoveryDeliveryTimeoutBounded(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")

	engine.config.Recovery.DeliveryTimeout = 50 * time.Millisecond
	engine.notifier = &captureNotifier{blockFor: 2 * time.Second}

	start := time.Now()
	if _, err := engine.RequestRecovery(ctx, "alice@example.com"); err != nil {
		t.Fatalf("expected stalled delivery to be non-fatal, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("request blocked on delivery for %v", elapsed)
	}

	if _, ok := store.pendingToken("u1"); !ok {
		t.Fatal("expected pending token despite delivery timeout")
	}
}

func TestRecoveryStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")

	store.findByEmailErr = errors.New("connection refused")
	if _, err := engine.RequestRecovery(ctx, "alice@example.com"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("request: expected ErrStoreUnavailable, got %v", err)
	}
	store.findByEmailErr = nil

	store.findByTokenErr = errors.New("connection refused")
	if err := engine.ConfirmRecovery(ctx, "123456", "new-password-123"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("confirm: expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRecoveryRequestRateLimited(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")
	withTestRecoveryLimiter(engine, rdb, 2)

	for i := 0; i < 2; i++ {
		if _, err := engine.RequestRecovery(ctx, "alice@example.com"); err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
	}

	if _, err := engine.RequestRecovery(ctx, "alice@example.com"); !errors.Is(err, ErrRecoveryRateLimited) {
		t.Fatalf("expected ErrRecoveryRateLimited, got %v", err)
	}
}

func TestRecoveryConfirmRateLimitedByIP(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")
	withTestRecoveryLimiter(engine, rdb, 2)

	ctx := WithClientIP(context.Background(), "198.51.100.7")

	for i := 0; i < 2; i++ {
		if err := engine.ConfirmRecovery(ctx, "000000", "new-password-123"); !errors.Is(err, ErrTokenInvalidOrExpired) {
			t.Fatalf("probe %d: expected ErrTokenInvalidOrExpired, got %v", i+1, err)
		}
	}

	if err := engine.ConfirmRecovery(ctx, "000000", "new-password-123"); !errors.Is(err, ErrRecoveryRateLimited) {
		t.Fatalf("expected ErrRecoveryRateLimited, got %v", err)
	}
}

func TestRecoveryFailsWhenRedisUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)

	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")
	withTestRecoveryLimiter(engine, rdb, 2)

	mr.Close()

	if _, err := engine.RequestRecovery(ctx, "alice@example.com"); !errors.Is(err, ErrRecoveryUnavailable) {
		t.Fatalf("expected ErrRecoveryUnavailable, got %v", err)
	}
}

func TestRecoveryAuditAndReplayMetrics(t *testing.T) {
	ctx := context.Background()
	store := newMockStore()
	engine := newTestEngine(t, store)
	seedUser(t, engine, store, "old-password-123")
	sink := withTestAudit(t, engine)

	notifier := &captureNotifier{}
	engine.notifier = notifier

	if _, err := engine.RequestRecovery(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestRecovery failed: %v", err)
	}
	code := notifier.lastCode()

	if err := engine.ConfirmRecovery(ctx, code, "new-password-123"); err != nil {
		t.Fatalf("ConfirmRecovery failed: %v", err)
	}

	// Force a lost CAS: the lookup still sees a pending token, but the
	// consume step finds the slot already taken.
	if _, err := engine.RequestRecovery(ctx, "alice@example.com"); err != nil {
		t.Fatalf("second RequestRecovery failed: %v", err)
	}
	store.consumeErr = ErrCredentialNotFound
	if err := engine.ConfirmRecovery(ctx, notifier.lastCode(), "newer-password-123"); !errors.Is(err, ErrTokenInvalidOrExpired) {
		t.Fatalf("expected lost CAS to surface ErrTokenInvalidOrExpired, got %v", err)
	}

	engine.Close()

	if got := len(sink.byType(EventRecoveryRequest)); got != 2 {
		t.Fatalf("expected 2 recovery_request events, got %d", got)
	}

	confirms := sink.byType(EventRecoveryConfirm)
	if len(confirms) != 1 || !confirms[0].Success {
		t.Fatalf("unexpected recovery_confirm events: %+v", confirms)
	}
	if got := len(sink.byType(EventRecoveryReplay)); got != 1 {
		t.Fatalf("expected 1 recovery_replay event, got %d", got)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricRecoveryConfirmSuccess] != 1 {
		t.Fatalf("expected 1 confirm success, got %d", snap.Counters[MetricRecoveryConfirmSuccess])
	}
	if snap.Counters[MetricRecoveryReplay] != 1 {
		t.Fatalf("expected 1 replay counted, got %d", snap.Counters[MetricRecoveryReplay])
	}
}
