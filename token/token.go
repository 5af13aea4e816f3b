// Package token mints and validates the UUID+starttime+HMAC-SHA1
// tokens described in spec.md §3 (Token) and §4.4 step 4.
package token

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // protocol-mandated HMAC-SHA1, not used for confidentiality
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Token is a client-supplied session identifier, spec.md §3.
type Token struct {
	UUID      string
	StartTime int64 // epoch seconds
	Tag       string
}

// Encode renders the token in the `<uuid>_<starttime>_<hmac>` wire
// form used inside `TOKEN <token>\n`, spec.md §4.4 step 4.
func (t Token) Encode() string {
	return fmt.Sprintf("%s_%d_%s", t.UUID, t.StartTime, t.Tag)
}

// Mint builds a Token for startTime signed with secret, for client-side
// generation ahead of a measurement run.
func Mint(startTime time.Time, secret []byte) Token {
	id := uuid.NewString()
	st := startTime.Unix()
	return Token{UUID: id, StartTime: st, Tag: sign(id, st, secret)}
}

// Parse splits a raw `<uuid>_<starttime>_<hmac>` token string. It does
// not validate the HMAC; call Validate for that.
func Parse(raw string) (Token, error) {
	parts := strings.SplitN(raw, "_", 3)
	if len(parts) != 3 {
		return Token{}, fmt.Errorf("token: malformed token %q", raw)
	}
	if _, err := uuid.Parse(parts[0]); err != nil {
		return Token{}, fmt.Errorf("token: invalid uuid %q: %w", parts[0], err)
	}
	st, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Token{}, fmt.Errorf("token: invalid starttime %q: %w", parts[1], err)
	}
	return Token{UUID: parts[0], StartTime: st, Tag: parts[2]}, nil
}

func sign(id string, startTime int64, secret []byte) string {
	mac := hmac.New(sha1.New, secret)
	fmt.Fprintf(mac, "%s_%d", id, startTime)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Window bounds token acceptance, spec.md §3 ("not more than
// MAX_ACCEPT_EARLY seconds in the future nor MAX_ACCEPT_LATE seconds in
// the past").
type Window struct {
	MaxAcceptEarly time.Duration
	MaxAcceptLate  time.Duration
}

// DefaultWindow matches the RMBT reference defaults.
var DefaultWindow = Window{
	MaxAcceptEarly: 15 * time.Second,
	MaxAcceptLate:  2 * time.Minute,
}

// Verdict is the outcome of validating a token against a set of
// server secrets and the acceptance window.
type Verdict struct {
	Valid bool
	// DelayUntil is non-zero when the token is valid but slightly
	// early: the server should delay acceptance until this instant
	// rather than reject outright, spec.md §3 ("if slightly early, the
	// server delays acceptance until the start time").
	DelayUntil time.Time
	Err        error
}

// Validate checks t's HMAC against each of secrets (trying each in
// turn, so a secret rotation has an overlap window) and enforces the
// acceptance window relative to now.
func Validate(t Token, secrets [][]byte, window Window, now time.Time) Verdict {
	raw := fmt.Sprintf("%s_%d", t.UUID, t.StartTime)
	_ = raw
	matched := false
	for _, secret := range secrets {
		want := sign(t.UUID, t.StartTime, secret)
		if hmac.Equal([]byte(want), []byte(t.Tag)) {
			matched = true
			break
		}
	}
	if !matched {
		return Verdict{Err: fmt.Errorf("token: hmac mismatch")}
	}

	start := time.Unix(t.StartTime, 0)
	earliest := now.Add(-window.MaxAcceptLate)
	latest := now.Add(window.MaxAcceptEarly)

	if start.Before(earliest) {
		return Verdict{Err: fmt.Errorf("token: start time too far in the past")}
	}
	if start.After(latest) {
		return Verdict{Err: fmt.Errorf("token: start time too far in the future")}
	}
	if start.After(now) {
		return Verdict{Valid: true, DelayUntil: start}
	}
	return Verdict{Valid: true}
}
