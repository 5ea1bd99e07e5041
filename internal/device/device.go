package device

import (
	"context"
	"sync"
	"time"
)

// Capability names a device permission the user can grant or deny.
type Capability string

const (
	CapabilityNotifications Capability = "notifications"
	CapabilityCalendar      Capability = "calendar"
	CapabilityReminders     Capability = "reminders"
)

// Notifier schedules local notifications.
type Notifier interface {
	Schedule(ctx context.Context, title, body string, fireAt time.Time) error
}

// Calendar creates calendar events.
type Calendar interface {
	CreateEvent(ctx context.Context, title, notes string, startsAt, endsAt time.Time) error
}

// Reminders creates reminders.
type Reminders interface {
	CreateReminder(ctx context.Context, title, notes string, dueAt *time.Time) error
}

// Actions bundles the native integrations the handshake runner drives.
type Actions struct {
	Notifier  Notifier
	Calendar  Calendar
	Reminders Reminders
}

// Gate records the user's per-capability permission decisions. A capability
// with no recorded decision is resolved through the ask callback; the answer
// is remembered for the rest of the process.
type Gate struct {
	mu      sync.Mutex
	granted map[Capability]bool
	ask     func(cap Capability) bool
}

// NewGate creates a permission gate. ask is consulted once per undecided
// capability; a nil ask denies everything undecided.
func NewGate(ask func(cap Capability) bool) *Gate {
	return &Gate{
		granted: make(map[Capability]bool),
		ask:     ask,
	}
}

// Grant pre-records a decision, bypassing the ask callback.
func (g *Gate) Grant(cap Capability, allowed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.granted[cap] = allowed
}

// Allowed resolves a capability to a decision, asking the user if needed.
func (g *Gate) Allowed(cap Capability) bool {
	g.mu.Lock()
	if decided, ok := g.granted[cap]; ok {
		g.mu.Unlock()
		return decided
	}
	g.mu.Unlock()

	allowed := false
	if g.ask != nil {
		allowed = g.ask(cap)
	}

	g.mu.Lock()
	g.granted[cap] = allowed
	g.mu.Unlock()
	return allowed
}
