package domain

import "time"

// DistributedLock is a durable lock row over a named resource (an account
// number). Rows exist only transiently: deleted on release, swept once
// past ExpiresAt so a crashed owner cannot starve other instances.
type DistributedLock struct {
	LockKey   string
	OwnerID   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the lock's TTL has lapsed.
func (l DistributedLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
