package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alcray/trainforge-conductor/internal/conductor"
)

func newTestLedger(now *time.Time) *Ledger {
	return New(func() time.Time { return *now })
}

func registerKey(l *Ledger, rpm, tpm int64) {
	l.Register(conductor.KeyDescriptor{Provider: "p", Name: "k", RPM: rpm, TPM: tpm})
}

func TestTryReserve_DebitsBothCounters(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 10, 1000)

	r, err := l.TryReserve("p", "k", 100)
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	st, _ := l.KeyStatus("p", "k")
	if st.RequestsRemaining != 9 {
		t.Errorf("RequestsRemaining = %d, want 9", st.RequestsRemaining)
	}
	if st.TokensRemaining != 900 {
		t.Errorf("TokensRemaining = %d, want 900", st.TokensRemaining)
	}
	l.Settle(r, 100)
}

func TestTryReserve_InsufficientCapacity(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 1, 100)

	if _, err := l.TryReserve("p", "k", 50); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if _, err := l.TryReserve("p", "k", 50); err == nil {
		t.Fatal("expected second reserve (RPM exhausted) to fail")
	}
}

// P2: refill is idempotent within the window.
func TestRefillIfDue_IdempotentWithinWindow(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 5, 500)

	l.TryReserve("p", "k", 100)
	st1, _ := l.KeyStatus("p", "k")

	l.RefillIfDue("p", "k")
	st2, _ := l.KeyStatus("p", "k")

	if st1 != st2 {
		t.Errorf("second refill_if_due changed state: %+v vs %+v", st1, st2)
	}
}

func TestRefillIfDue_ResetsAfterWindow(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 5, 500)

	l.TryReserve("p", "k", 100)
	now = now.Add(61 * time.Second)
	l.RefillIfDue("p", "k")

	st, _ := l.KeyStatus("p", "k")
	if st.RequestsRemaining != 5 || st.TokensRemaining != 500 {
		t.Errorf("expected full refill, got %+v", st)
	}
}

// P3: release round-trip restores both counters exactly.
func TestRelease_RoundTrip(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 10, 1000)

	before, _ := l.KeyStatus("p", "k")
	r, err := l.TryReserve("p", "k", 237)
	if err != nil {
		t.Fatal(err)
	}
	l.Release(r)
	after, _ := l.KeyStatus("p", "k")

	if before.RequestsRemaining != after.RequestsRemaining || before.TokensRemaining != after.TokensRemaining {
		t.Errorf("release did not restore counters: before=%+v after=%+v", before, after)
	}
}

// P4: settle conservation.
func TestSettle_Conservation(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 10, 1000)

	pre, _ := l.KeyStatus("p", "k")
	r, err := l.TryReserve("p", "k", 300)
	if err != nil {
		t.Fatal(err)
	}
	l.Settle(r, 200)

	post, _ := l.KeyStatus("p", "k")
	if post.TokensRemaining != pre.TokensRemaining-200 {
		t.Errorf("TokensRemaining = %d, want %d", post.TokensRemaining, pre.TokensRemaining-200)
	}
	if post.RequestsRemaining != pre.RequestsRemaining-1 {
		t.Errorf("RequestsRemaining = %d, want %d", post.RequestsRemaining, pre.RequestsRemaining-1)
	}
}

func TestSettle_DoubleSettleIsNoop(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 10, 1000)

	r, _ := l.TryReserve("p", "k", 100)
	l.Settle(r, 50)
	st1, _ := l.KeyStatus("p", "k")
	l.Settle(r, 999) // should be ignored: reservation already closed
	st2, _ := l.KeyStatus("p", "k")

	if st1 != st2 {
		t.Errorf("second settle mutated state: %+v vs %+v", st1, st2)
	}
}

func TestPenalize_HTTP429_UsesRetryAfter(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 10, 1000)

	l.Penalize("p", "k", ReasonHTTP429, 2*time.Second)
	st, _ := l.KeyStatus("p", "k")
	if st.IsAvailable {
		t.Error("key should be unavailable immediately after 429 penalty")
	}

	now = now.Add(3 * time.Second)
	st, _ = l.KeyStatus("p", "k")
	if !st.IsAvailable {
		t.Error("key should be available again after cooldown elapses")
	}
}

func TestPenalize_HTTP429_DefaultsTo30s(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 10, 1000)

	l.Penalize("p", "k", ReasonHTTP429, 0)
	now = now.Add(29 * time.Second)
	st, _ := l.KeyStatus("p", "k")
	if st.IsAvailable {
		t.Error("key should still be in cooldown at 29s")
	}
	now = now.Add(2 * time.Second)
	st, _ = l.KeyStatus("p", "k")
	if !st.IsAvailable {
		t.Error("key should be available after 31s")
	}
}

func TestPenalize_HTTP5xx_EscalatesExponentially(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 10, 1000)

	l.Penalize("p", "k", ReasonHTTP5xx, 0) // 5s
	now = now.Add(6 * time.Second)
	l.Penalize("p", "k", ReasonHTTP5xx, 0) // 10s
	now = now.Add(6 * time.Second)
	st, _ := l.KeyStatus("p", "k")
	if st.IsAvailable {
		t.Error("second consecutive 5xx should extend cooldown beyond 6s")
	}
}

func TestPenalize_HTTP5xx_CapsAt60s(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 10, 1000)

	for range 10 {
		l.Penalize("p", "k", ReasonHTTP5xx, 0)
	}
	st, _ := l.KeyStatus("p", "k")
	if st.CooldownUntil.Sub(now) > max5xxCooldown {
		t.Errorf("cooldown %v exceeds cap %v", st.CooldownUntil.Sub(now), max5xxCooldown)
	}
}

func TestWaitForCapacity_WokenBySettle(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 1, 1000)

	r, err := l.TryReserve("p", "k", 100)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	woken := make(chan error, 1)
	go func() {
		defer wg.Done()
		woken <- l.WaitForCapacity(context.Background(), 5*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	l.Release(r)
	wg.Wait()

	if err := <-woken; err != nil {
		t.Errorf("WaitForCapacity returned error after release: %v", err)
	}
}

func TestWaitForCapacity_TimesOut(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 1, 1000)
	l.TryReserve("p", "k", 100)

	err := l.WaitForCapacity(context.Background(), 30*time.Millisecond)
	if err != conductor.ErrCapacityTimeout {
		t.Errorf("err = %v, want ErrCapacityTimeout", err)
	}
}

// P1 (property-style, bounded): after an interleaved sequence of reserve /
// settle / release / refill, counters never leave [0, limit].
func TestNonNegativeAccounting(t *testing.T) {
	t.Parallel()
	now := time.Now()
	l := newTestLedger(&now)
	registerKey(l, 5, 500)

	var reservations []*Reservation
	for i := range 20 {
		if i%3 == 0 && len(reservations) > 0 {
			l.Settle(reservations[0], 10)
			reservations = reservations[1:]
			continue
		}
		if r, err := l.TryReserve("p", "k", 50); err == nil {
			reservations = append(reservations, r)
		}
		now = now.Add(5 * time.Second)
		l.RefillIfDue("p", "k")

		st, _ := l.KeyStatus("p", "k")
		if st.RequestsRemaining < 0 || st.RequestsRemaining > 5 {
			t.Fatalf("RequestsRemaining out of bounds: %d", st.RequestsRemaining)
		}
		if st.TokensRemaining < 0 || st.TokensRemaining > 500 {
			t.Fatalf("TokensRemaining out of bounds: %d", st.TokensRemaining)
		}
	}
	for _, r := range reservations {
		l.Settle(r, 50)
	}
}
