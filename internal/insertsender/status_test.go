package insertsender

import (
	"sync"
	"testing"
	"time"
)

func TestStatus_String(t *testing.T) {
	cases := map[Status]string{
		StatusRunning:                   "NOT FINISHED",
		StatusSuccess:                   "SUCCESS",
		StatusRouteNotFound:             "ROUTE NOT FOUND",
		StatusRouteReallyNotFound:       "ROUTE REALLY NOT FOUND",
		StatusInternalError:             "INTERNAL ERROR",
		StatusTimedOut:                  "TIMED OUT",
		StatusGeneratedRejectedOverload: "GENERATED REJECTED OVERLOAD",
		Status(99):                      "UNKNOWN STATUS CODE: 99",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", int(status), got, want)
		}
	}
}

func TestStatusRegister_FinishRewritesRouteNotFoundWithoutSentRequest(t *testing.T) {
	r := newStatusRegister(5)
	got := r.finish(StatusRouteNotFound)
	if got != StatusRouteReallyNotFound {
		t.Fatalf("expected rewrite to ROUTE REALLY NOT FOUND, got %s", got)
	}
}

func TestStatusRegister_FinishKeepsRouteNotFoundWhenRequestWasSent(t *testing.T) {
	r := newStatusRegister(5)
	r.markSentRequest()
	got := r.finish(StatusRouteNotFound)
	if got != StatusRouteNotFound {
		t.Fatalf("expected ROUTE NOT FOUND unchanged, got %s", got)
	}
}

func TestStatusRegister_FinishTwicePanics(t *testing.T) {
	r := newStatusRegister(5)
	r.finish(StatusSuccess)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a second finish to panic")
		}
	}()
	r.finish(StatusSuccess)
}

func TestStatusRegister_ClampHTLOnlyLowers(t *testing.T) {
	r := newStatusRegister(10)
	r.clampHTL(15)
	if got := r.getHTL(); got != 10 {
		t.Fatalf("expected clamp to ignore a higher value, got %d", got)
	}
	r.clampHTL(3)
	if got := r.getHTL(); got != 3 {
		t.Fatalf("expected clamp to lower to 3, got %d", got)
	}
}

func TestStatusRegister_HasRecentlyCollidedIsConsumedOnce(t *testing.T) {
	r := newStatusRegister(5)
	r.markCollided()
	if !r.hasRecentlyCollidedConsume() {
		t.Fatalf("expected the edge bit to be set after markCollided")
	}
	if r.hasRecentlyCollidedConsume() {
		t.Fatalf("expected the edge bit to be cleared after one read")
	}
	if !r.hasCollidedFlag() {
		t.Fatalf("expected the sticky bit to remain set")
	}
}

func TestStatusRegister_ForwardRejectedOverloadIsIdempotent(t *testing.T) {
	r := newStatusRegister(5)
	if !r.forwardRejectedOverload() {
		t.Fatalf("expected the first call to flip the bit")
	}
	if r.forwardRejectedOverload() {
		t.Fatalf("expected the second call to be a no-op")
	}
}

func TestStatusRegister_AwaitTerminalWakesOnFinish(t *testing.T) {
	r := newStatusRegister(5)
	done := make(chan Status, 1)
	go func() { done <- r.awaitTerminal() }()

	r.finish(StatusSuccess)

	select {
	case s := <-done:
		if s != StatusSuccess {
			t.Fatalf("expected SUCCESS from awaitTerminal, got %s", s)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected awaitTerminal to wake after finish")
	}
}

func TestStatusRegister_ConcurrentAccess(t *testing.T) {
	r := newStatusRegister(5)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.forwardRejectedOverload()
			_ = r.getHTL()
			_ = r.hasCollidedFlag()
		}()
	}
	wg.Wait()
	if !r.receivedRejectedOverload() {
		t.Fatalf("expected receivedRejectedOverload to report the forwarded bit")
	}
}
