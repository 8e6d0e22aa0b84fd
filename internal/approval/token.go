// Package approval implements the out-of-band approval token protocol:
// opaque, time-boxed, single-use tokens embedded in emailed approve/reject
// links so the recipient can act without logging in.
package approval

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

const tokenBytes = 32

// Result classifies a token validation outcome.
type Result int

const (
	Ok Result = iota
	Expired
	Mismatch
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case Expired:
		return "expired"
	default:
		return "mismatch"
	}
}

// Issuer mints approval tokens. The clock is injectable for tests.
type Issuer struct {
	ttl time.Duration
	now func() time.Time
}

// NewIssuer builds an issuer with the given token lifetime.
func NewIssuer(ttl time.Duration, now func() time.Time) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{ttl: ttl, now: now}
}

// Issue returns a fresh high-entropy token and its expiry.
func (i *Issuer) Issue() (string, time.Time, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("generate approval token: %w", err)
	}
	return hex.EncodeToString(buf), i.now().Add(i.ttl), nil
}

// Validate compares a supplied token against the stored token and expiry.
// A ticket with no stored token cannot be actioned anonymously, so both
// the nil-stored and empty-supplied cases report Mismatch.
func Validate(stored *string, expiry *time.Time, supplied string, now time.Time) Result {
	if stored == nil || expiry == nil || supplied == "" {
		return Mismatch
	}
	if subtle.ConstantTimeCompare([]byte(*stored), []byte(supplied)) != 1 {
		return Mismatch
	}
	if now.After(*expiry) {
		return Expired
	}
	return Ok
}
