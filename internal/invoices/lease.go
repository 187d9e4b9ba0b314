package invoices

import "time"

// DefaultLeaseTTL is how long a review lease survives without a heartbeat.
const DefaultLeaseTTL = 2 * time.Minute

// Lease is a cooperative claim on an invoice decision.
type Lease struct {
	Reviewer  *int64
	StartedAt *time.Time
	LastPing  *time.Time
}

// Live reports whether the lease is held and its last heartbeat is within ttl.
func (l Lease) Live(now time.Time, ttl time.Duration) bool {
	if l.Reviewer == nil || l.LastPing == nil {
		return false
	}
	return now.Sub(*l.LastPing) < ttl
}

// HeldByOther reports whether a live lease belongs to someone other than actorID.
func (l Lease) HeldByOther(actorID int64, now time.Time, ttl time.Duration) bool {
	return l.Live(now, ttl) && *l.Reviewer != actorID
}

// LeaseStatus reports the current review lease.
type LeaseStatus struct {
	InvoiceID int64      `json:"invoice_id"`
	Reviewer  *int64     `json:"reviewer,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastPing  *time.Time `json:"last_ping,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Live      bool       `json:"live"`
}

// StatusOf describes inv's lease at now.
func StatusOf(inv Invoice, now time.Time, ttl time.Duration) LeaseStatus {
	lease := inv.Lease()
	st := LeaseStatus{InvoiceID: inv.ID, Reviewer: lease.Reviewer, StartedAt: lease.StartedAt, LastPing: lease.LastPing, Live: lease.Live(now, ttl)}
	if lease.LastPing != nil {
		exp := lease.LastPing.Add(ttl)
		st.ExpiresAt = &exp
	}
	return st
}
