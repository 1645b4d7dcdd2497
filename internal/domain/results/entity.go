package results

import "time"

// Record is a persisted analysis result, addressed by a random id.
type Record struct {
	Result    string    `json:"result"`
	Genre     string    `json:"genre"`
	Type      string    `json:"type,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExpiresAt is the moment the record stops being readable.
func (r *Record) ExpiresAt(ttl time.Duration) time.Time {
	return r.CreatedAt.Add(ttl)
}

// Expired reports whether the record is past its TTL at now.
func (r *Record) Expired(now time.Time, ttl time.Duration) bool {
	return !now.Before(r.ExpiresAt(ttl))
}
