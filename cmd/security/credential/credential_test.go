package credential

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"
)

func TestMintAndDecode_OK(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	tok, err := Mint("reg-01HZX", "usr-01HZY", "evt-01HZZ", now)
	if err != nil {
		t.Fatalf("Mint error: %v", err)
	}
	if !strings.HasPrefix(tok, "QP1.") {
		t.Fatalf("unexpected token prefix: %q", tok)
	}

	claims, err := Decode(tok)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if claims.RegistrationRef != "reg-01HZX" || claims.UserRef != "usr-01HZY" || claims.EventRef != "evt-01HZZ" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.Nonce == "" {
		t.Fatalf("expected non-empty nonce")
	}
}

func TestMint_NonceVariesPerCall(t *testing.T) {
	now := time.Now().UTC()

	a, err := Mint("r", "u", "e", now)
	if err != nil {
		t.Fatalf("Mint error: %v", err)
	}
	b, err := Mint("r", "u", "e", now)
	if err != nil {
		t.Fatalf("Mint error: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct tokens for same refs")
	}
}

func TestMint_RejectsBadRefs(t *testing.T) {
	cases := []struct {
		name           string
		reg, user, evt string
	}{
		{"empty registration", "", "u", "e"},
		{"empty user", "r", "", "e"},
		{"empty event", "r", "u", ""},
		{"separator in ref", "r|x", "u", "e"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Mint(tc.reg, tc.user, tc.evt, time.Now()); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDecode_Tampered(t *testing.T) {
	tok, err := Mint("reg-1", "usr-1", "evt-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("Mint error: %v", err)
	}

	// Flip a character inside the base64 payload.
	parts := strings.SplitN(tok, ".", 3)
	body := []byte(parts[1])
	if body[0] == 'A' {
		body[0] = 'B'
	} else {
		body[0] = 'A'
	}
	tampered := parts[0] + "." + string(body) + "." + parts[2]

	_, err = Decode(tampered)
	if !errors.Is(err, ErrBadSignature) && !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected signature or format failure, got %v", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"QP1",
		"QP1.",
		"QP1..",
		"QP2.YWJj.deadbeef",
		"not a token at all",
		"QP1.%%%not-base64%%%.deadbeef",
		strings.Repeat("x", 4096),
	}
	for _, tc := range cases {
		if _, err := Decode(tc); err == nil {
			t.Fatalf("expected error for %q", tc)
		}
	}
}

// Decode must fail cleanly on arbitrary garbage; hostile or garbled scanned
// text is the most common external input on this path.
func TestDecode_RandomGarbageNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 5000; i++ {
		n := rng.Intn(200)
		b := make([]byte, n)
		for j := range b {
			b[j] = byte(rng.Intn(256))
		}
		if _, err := Decode(string(b)); err == nil {
			t.Fatalf("expected error for random input %q", b)
		}
	}
}

func TestDecode_HMACMode(t *testing.T) {
	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")

	tok, err := Mint("reg-1", "usr-1", "evt-1", time.Now().UTC())
	if err != nil {
		t.Fatalf("Mint error: %v", err)
	}
	if _, err := Decode(tok); err != nil {
		t.Fatalf("Decode error under HMAC mode: %v", err)
	}

	// A token minted under a different key must not verify.
	t.Setenv(HMACEnvKey, "another-key-another-key-another-key")
	if _, err := Decode(tok); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature after key change, got %v", err)
	}
}

func TestHMACKeyFromEnv(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HMACKeyFromEnv(32); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}

	t.Setenv(HMACEnvKey, strings.Repeat("k", 32))
	key, err := HMACKeyFromEnv(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("unexpected key length %d", len(key))
	}
}
