package token

import (
	"testing"
	"time"
)

func TestMintParseValidateRoundTrip(t *testing.T) {
	secret := []byte("s3cr3t")
	now := time.Unix(1_700_000_000, 0)
	tok := Mint(now, secret)

	parsed, err := Parse(tok.Encode())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.UUID != tok.UUID || parsed.StartTime != tok.StartTime || parsed.Tag != tok.Tag {
		t.Fatalf("round trip mismatch: got %+v want %+v", parsed, tok)
	}

	v := Validate(parsed, [][]byte{secret}, DefaultWindow, now)
	if v.Err != nil || !v.Valid {
		t.Fatalf("Validate: %+v", v)
	}
	if !v.DelayUntil.IsZero() {
		t.Fatalf("expected no delay for on-time token, got %v", v.DelayUntil)
	}
}

func TestValidateRejectsBadHMAC(t *testing.T) {
	tok := Mint(time.Unix(1_700_000_000, 0), []byte("secret-a"))
	v := Validate(tok, [][]byte{[]byte("secret-b")}, DefaultWindow, time.Unix(1_700_000_000, 0))
	if v.Valid || v.Err == nil {
		t.Fatalf("expected hmac mismatch, got %+v", v)
	}
}

func TestValidateSecretRotationOverlap(t *testing.T) {
	tok := Mint(time.Unix(1_700_000_000, 0), []byte("old"))
	v := Validate(tok, [][]byte{[]byte("new"), []byte("old")}, DefaultWindow, time.Unix(1_700_000_000, 0))
	if !v.Valid {
		t.Fatalf("expected validation against rotated secret set to succeed: %+v", v)
	}
}

func TestValidateTooFarInPast(t *testing.T) {
	secret := []byte("s")
	start := time.Unix(1_700_000_000, 0)
	tok := Mint(start, secret)
	now := start.Add(DefaultWindow.MaxAcceptLate + time.Second)
	v := Validate(tok, [][]byte{secret}, DefaultWindow, now)
	if v.Valid || v.Err == nil {
		t.Fatalf("expected rejection for stale token, got %+v", v)
	}
}

func TestValidateTooFarInFuture(t *testing.T) {
	secret := []byte("s")
	now := time.Unix(1_700_000_000, 0)
	tok := Mint(now.Add(DefaultWindow.MaxAcceptEarly+time.Second), secret)
	v := Validate(tok, [][]byte{secret}, DefaultWindow, now)
	if v.Valid || v.Err == nil {
		t.Fatalf("expected rejection for too-early token, got %+v", v)
	}
}

func TestValidateSlightlyEarlyDelays(t *testing.T) {
	secret := []byte("s")
	now := time.Unix(1_700_000_000, 0)
	tok := Mint(now.Add(5*time.Second), secret)
	v := Validate(tok, [][]byte{secret}, DefaultWindow, now)
	if !v.Valid || v.Err != nil {
		t.Fatalf("expected valid-but-delayed verdict, got %+v", v)
	}
	if v.DelayUntil.IsZero() {
		t.Fatalf("expected DelayUntil to be set")
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []string{"", "only-one-part", "not-a-uuid_123_tag", "00000000-0000-0000-0000-000000000000_notanumber_tag"}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q): expected error", c)
		}
	}
}
