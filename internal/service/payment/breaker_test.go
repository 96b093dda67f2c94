package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

func TestCircuitBreakerExecute(t *testing.T) {
	cb := NewCircuitBreaker(2, 20*time.Millisecond, nil)
	if cb.logger == nil {
		t.Fatal("expected default logger")
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed state, got %v", cb.State())
	}

	if err := cb.Execute("ok", func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Две ошибки подряд открывают breaker.
	if err := cb.Execute("fail-1", func() error { return errors.New("boom") }); err == nil {
		t.Fatal("expected first failure")
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("breaker should still be closed after first failure, got %v", cb.State())
	}
	if err := cb.Execute("fail-2", func() error { return errors.New("boom") }); err == nil {
		t.Fatal("expected second failure")
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("breaker should be open, got %v", cb.State())
	}

	called := false
	err := cb.Execute("blocked", func() error {
		called = true
		return nil
	})
	if called {
		t.Fatal("open breaker must not call fn")
	}
	if !errors.Is(err, domain.ErrGateway) {
		t.Fatalf("expected ErrGateway from open breaker, got %v", err)
	}

	// После resetTimeout — пробная попытка и закрытие.
	cb.now = func() time.Time { return time.Now().Add(time.Second) }
	if err := cb.Execute("half-open-call", func() error { return nil }); err != nil {
		t.Fatalf("half-open call should pass: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("breaker should close after successful half-open call, got %v", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Millisecond, log.New().WithField("test", "breaker"))
	_ = cb.Execute("fail", func() error { return errors.New("boom") })
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}

	cb.now = func() time.Time { return time.Now().Add(time.Second) }
	if err := cb.Execute("half-open-call", func() error { return errors.New("still down") }); err == nil {
		t.Fatal("expected half-open call failure")
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("failed half-open call must reopen breaker, got %v", cb.State())
	}
}

func TestBreakerGatewayDelegatesAndBlocks(t *testing.T) {
	mock := NewMockService()
	breaker := NewCircuitBreaker(1, time.Hour, nil)
	gw := NewBreakerGateway(mock, breaker)
	ctx := context.Background()

	intent, err := gw.CreateIntent(ctx, domain.IntentParams{AmountMinor: 2050, Currency: "usd"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if _, err := gw.GetIntent(ctx, intent.ID); err != nil {
		t.Fatalf("get intent: %v", err)
	}

	mock.GetErr = errors.New("stripe down")
	if _, err := gw.GetIntent(ctx, intent.ID); err == nil {
		t.Fatal("expected gateway failure")
	}

	createBefore, _ := mock.Calls()
	if _, err := gw.CreateIntent(ctx, domain.IntentParams{AmountMinor: 100}); !errors.Is(err, domain.ErrGateway) {
		t.Fatalf("expected ErrGateway while open, got %v", err)
	}
	createAfter, _ := mock.Calls()
	if createAfter != createBefore {
		t.Fatal("open breaker must not reach the gateway")
	}
}

func TestCircuitStateString(t *testing.T) {
	cases := map[CircuitState]string{
		CircuitClosed:    "closed",
		CircuitOpen:      "open",
		CircuitHalfOpen:  "half_open",
		CircuitState(42): "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("state %d: expected %q, got %q", state, want, got)
		}
	}
}
