package domain

import (
	"time"
)

// Record is the persisted form of a paste. One backend key holds one Record
// serialized as JSON. Optional fields are null when unset.
type Record struct {
	Content        string `json:"content"`
	CreatedAt      int64  `json:"createdAt"`
	TTLSeconds     *int64 `json:"ttlSeconds"`
	MaxViews       *int64 `json:"maxViews"`
	RemainingViews *int64 `json:"remainingViews"`
}

type CreateParams struct {
	Content    string
	TTLSeconds *int64
	MaxViews   *int64
}

type Created struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// NewRecord builds a fresh record; remaining views start at the ceiling.
func NewRecord(p CreateParams, now time.Time) *Record {
	r := &Record{
		Content:    p.Content,
		CreatedAt:  now.UnixMilli(),
		TTLSeconds: copyInt(p.TTLSeconds),
		MaxViews:   copyInt(p.MaxViews),
	}
	r.RemainingViews = copyInt(p.MaxViews)
	return r
}

// Deadline returns the absolute time-expiry in epoch milliseconds.
func (r *Record) Deadline() (int64, bool) {
	if r.TTLSeconds == nil {
		return 0, false
	}
	return r.CreatedAt + *r.TTLSeconds*1000, true
}

// IsExpired reports whether the record is expired-by-time at now.
func (r *Record) IsExpired(now time.Time) bool {
	deadline, ok := r.Deadline()
	if !ok {
		return false
	}
	return now.UnixMilli() >= deadline
}

// IsExhausted reports whether the view budget is spent.
func (r *Record) IsExhausted() bool {
	if r.MaxViews == nil {
		return false
	}
	return r.RemainingViews != nil && *r.RemainingViews <= 0
}

// ExpiresAt is the deadline as a time, or nil when the record never time-expires.
func (r *Record) ExpiresAt() *time.Time {
	deadline, ok := r.Deadline()
	if !ok {
		return nil
	}
	t := time.UnixMilli(deadline).UTC()
	return &t
}

// RemainingTTL is the backend expiry that keeps the original deadline when
// the record is rewritten at now. Zero means no expiry.
func (r *Record) RemainingTTL(now time.Time) time.Duration {
	deadline, ok := r.Deadline()
	if !ok {
		return 0
	}
	secs := (deadline - now.UnixMilli()) / 1000
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Limited reports whether the record has a finite view budget.
func (r *Record) Limited() bool {
	return r.MaxViews != nil && r.RemainingViews != nil
}

func copyInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
