package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"captainDispatch/models"
)

// OfferState is the per-captain lifecycle of one offer.
type OfferState int

const (
	OfferPending OfferState = iota
	OfferAccepting
	OfferDeclining
	OfferAccepted
	OfferDeclined
	OfferExpired
)

// String returns the lowercase state name.
func (s OfferState) String() string {
	switch s {
	case OfferPending:
		return "pending"
	case OfferAccepting:
		return "accepting"
	case OfferDeclining:
		return "declining"
	case OfferAccepted:
		return "accepted"
	case OfferDeclined:
		return "declined"
	case OfferExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further action is possible on the offer.
func (s OfferState) Terminal() bool {
	return s == OfferAccepted || s == OfferDeclined || s == OfferExpired
}

// OfferSession is one captain's view of one offer: the countdown plus the
// accept/decline state machine. Every action resolves to success, an explicit
// rejection, or a retriable error — the session is never left ambiguous.
//
// Pending -> {Accepting, Declining} -> {Accepted, Declined, Expired}.
// Expiry is handled identically to an explicit decline for this captain.
type OfferSession struct {
	resolver     *Resolver
	captain      *models.Captain
	notification *models.Notification
	countdown    *Countdown

	mu       sync.Mutex
	state    OfferState
	inFlight bool
}

// NewOfferSession builds a session for the captain's offer. Start must be
// called to begin the countdown.
func NewOfferSession(resolver *Resolver, captain *models.Captain, n *models.Notification) *OfferSession {
	s := &OfferSession{
		resolver:     resolver,
		captain:      captain,
		notification: n,
		state:        OfferPending,
	}
	s.countdown = NewCountdown(n.CreatedAt, resolver.DialogTTL, s.expire)
	s.countdown.Now = resolver.Now
	return s
}

// Start begins the countdown. A session built from stale state (offer already
// past TTL) expires immediately rather than counting from the full TTL.
func (s *OfferSession) Start() {
	s.countdown.Start()
}

// State returns the session's current state.
func (s *OfferSession) State() OfferState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Remaining returns the countdown's clamped remaining time.
func (s *OfferSession) Remaining() time.Duration {
	return s.countdown.Remaining()
}

// Fraction returns the countdown's remaining share of TTL.
func (s *OfferSession) Fraction() float64 {
	return s.countdown.Fraction()
}

// Accept runs the accept protocol. On a lost race the session ends Declined
// and ErrOrderTaken is returned for the UI. A transient error moves the
// session back to Pending so the captain may retry within the TTL.
func (s *OfferSession) Accept(ctx context.Context) (*models.Delivery, error) {
	s.mu.Lock()
	if s.state != OfferPending {
		st := s.state
		s.mu.Unlock()
		if st == OfferAccepted {
			return nil, nil
		}
		return nil, ErrOfferExpired
	}
	s.state = OfferAccepting
	s.inFlight = true
	s.mu.Unlock()

	d, err := s.resolver.Accept(ctx, s.captain, s.notification)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	switch {
	case err == nil:
		s.state = OfferAccepted
		s.countdown.Stop()
	case IsValidation(err):
		// Lost race, expired, or dangling order: the offer is over for this
		// captain either way.
		if err == ErrOfferExpired {
			s.state = OfferExpired
		} else {
			s.state = OfferDeclined
		}
		s.countdown.Stop()
	default:
		// Transient: leave the offer unresolved, retriable while TTL remains.
		s.state = OfferPending
	}
	return d, err
}

// Decline runs the decline protocol. Idempotent: declining a session that
// already reached a terminal state is a no-op.
func (s *OfferSession) Decline(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	if s.state != OfferPending {
		s.mu.Unlock()
		return nil
	}
	s.state = OfferDeclining
	s.mu.Unlock()

	err := s.resolver.Decline(ctx, s.notification)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// Non-fatal: the offer simply remains until TTL expiry.
		s.state = OfferPending
		return err
	}
	s.state = OfferDeclined
	s.countdown.Stop()
	return nil
}

// Close treats dismissing the dialog without a choice as an implicit decline,
// unless a response is already in flight — then the in-flight result is
// applied when it resolves rather than being dropped. The countdown is always
// stopped so it cannot fire against a disposed view.
func (s *OfferSession) Close(ctx context.Context) {
	s.mu.Lock()
	pendingDecline := s.state == OfferPending && !s.inFlight
	if pendingDecline {
		s.state = OfferDeclining
	}
	s.mu.Unlock()

	s.countdown.Stop()
	if !pendingDecline {
		return
	}
	err := s.resolver.Decline(ctx, s.notification)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		log.Printf("offer %s: decline on close: %v", s.notification.ID, err)
		s.state = OfferPending
		return
	}
	s.state = OfferDeclined
}

// expire runs from the countdown when the TTL elapses: the automatic decline,
// fired exactly once. An in-flight accept/decline wins over expiry.
func (s *OfferSession) expire() {
	s.mu.Lock()
	if s.state != OfferPending || s.inFlight {
		s.mu.Unlock()
		return
	}
	s.state = OfferExpired
	s.mu.Unlock()

	// Per-captain bookkeeping only, same as an explicit decline.
	if err := s.resolver.Decline(context.Background(), s.notification); err != nil {
		log.Printf("offer %s: decline on expiry: %v", s.notification.ID, err)
	}
}
