package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"captainDispatch/models"
)

func TestOfferSession_AcceptWins(t *testing.T) {
	e := newEnv(t, "offerwin")
	ctx := context.Background()
	c := e.newCaptain(t, "s-winner", 0, 0)
	o := e.newReadyOrder(t)
	s := NewOfferSession(e.resolver, c, e.offerFor(t, c, o))

	if s.State() != OfferPending {
		t.Fatalf("initial state = %s", s.State())
	}
	if s.Remaining() != 2*time.Minute {
		t.Fatalf("initial remaining = %v", s.Remaining())
	}

	d, err := s.Accept(ctx)
	if err != nil || d == nil {
		t.Fatalf("accept: delivery=%+v err=%v", d, err)
	}
	if s.State() != OfferAccepted {
		t.Fatalf("state after accept = %s", s.State())
	}
	// Acting again on a resolved session is a no-op.
	if d2, err := s.Accept(ctx); err != nil || d2 != nil {
		t.Fatalf("repeat accept: delivery=%+v err=%v", d2, err)
	}
	if err := s.Decline(ctx); err != nil {
		t.Fatalf("decline after accept: %v", err)
	}
	if s.State() != OfferAccepted {
		t.Fatalf("terminal state changed: %s", s.State())
	}
}

func TestOfferSession_AcceptLosesRace(t *testing.T) {
	e := newEnv(t, "offerlose")
	ctx := context.Background()
	winner := e.newCaptain(t, "s-first", 0, 0)
	loser := e.newCaptain(t, "s-second", 0, 0)
	o := e.newReadyOrder(t)

	ws := NewOfferSession(e.resolver, winner, e.offerFor(t, winner, o))
	ls := NewOfferSession(e.resolver, loser, e.offerFor(t, loser, o))

	if _, err := ws.Accept(ctx); err != nil {
		t.Fatalf("winning accept: %v", err)
	}
	_, err := ls.Accept(ctx)
	if !errors.Is(err, ErrOrderTaken) {
		t.Fatalf("losing accept err = %v", err)
	}
	if ls.State() != OfferDeclined {
		t.Fatalf("loser state = %s, want declined", ls.State())
	}
	if !ls.State().Terminal() {
		t.Fatalf("loser state not terminal")
	}
}

func TestOfferSession_StaleAcceptIsDecline(t *testing.T) {
	e := newEnv(t, "offerstale")
	ctx := context.Background()
	c := e.newCaptain(t, "s-late", 0, 0)
	o := e.newReadyOrder(t)
	n := e.offerFor(t, c, o)
	s := NewOfferSession(e.resolver, c, n)

	e.now = e.now.Add(3 * time.Minute)
	if s.Remaining() != 0 {
		t.Fatalf("stale remaining = %v", s.Remaining())
	}

	_, err := s.Accept(ctx)
	if !errors.Is(err, ErrOfferExpired) {
		t.Fatalf("stale accept err = %v", err)
	}
	if s.State() != OfferExpired {
		t.Fatalf("state = %s, want expired", s.State())
	}
	n2, _ := e.notifications.GetByID(ctx, n.ID)
	if !n2.IsRead {
		t.Fatalf("stale offer not dismissed")
	}
}

func TestOfferSession_CloseIsImplicitDecline(t *testing.T) {
	e := newEnv(t, "offerclose")
	ctx := context.Background()
	c := e.newCaptain(t, "s-closer", 0, 0)
	o := e.newReadyOrder(t)
	n := e.offerFor(t, c, o)
	s := NewOfferSession(e.resolver, c, n)

	s.Close(ctx)
	if s.State() != OfferDeclined {
		t.Fatalf("state after close = %s", s.State())
	}
	n2, _ := e.notifications.GetByID(ctx, n.ID)
	if !n2.IsRead {
		t.Fatalf("close did not dismiss the offer")
	}
	// The order is untouched.
	o2, _ := e.orders.GetByID(ctx, o.ID)
	if o2.Status != models.OrderStatusReady {
		t.Fatalf("close mutated the order: %s", o2.Status)
	}
	// Closing again is a no-op.
	s.Close(ctx)
	if s.State() != OfferDeclined {
		t.Fatalf("second close changed state: %s", s.State())
	}
}

func TestOfferSession_ExpiryDeclinesOnce(t *testing.T) {
	e := newEnv(t, "offerexpire")
	c := e.newCaptain(t, "s-sleeper", 0, 0)
	o := e.newReadyOrder(t)
	n := e.offerFor(t, c, o)

	// Short real-clock TTL so the countdown goroutine drives expiry.
	e.resolver.DialogTTL = 40 * time.Millisecond
	e.resolver.Now = time.Now
	n.CreatedAt = time.Now()

	s := NewOfferSession(e.resolver, c, n)
	s.countdown.TickInterval = 5 * time.Millisecond
	s.Start()

	deadline := time.After(2 * time.Second)
	for s.State() != OfferExpired {
		select {
		case <-deadline:
			t.Fatalf("session never expired, state = %s", s.State())
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The dismissal write completes just after the state flips; poll for it.
	for {
		n2, _ := e.notifications.GetByID(context.Background(), n.ID)
		if n2 != nil && n2.IsRead {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expiry did not dismiss the offer")
		case <-time.After(5 * time.Millisecond):
		}
	}
	// Expiry behaves exactly like a decline: terminal, idempotent.
	if err := s.Decline(context.Background()); err != nil {
		t.Fatalf("decline after expiry: %v", err)
	}
	if s.State() != OfferExpired {
		t.Fatalf("state after late decline = %s", s.State())
	}
}
