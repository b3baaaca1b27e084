package fhe

import (
	"errors"
	"testing"
)

func newBackend(t *testing.T) *DevBackend {
	t.Helper()
	b, err := NewDevBackend()
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return b
}

func TestEncryptRevealRoundTrip(t *testing.T) {
	b := newBackend(t)

	h, err := b.Encrypt(12345)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if h.IsZero() {
		t.Error("got zero handle")
	}

	v, err := b.Reveal(h)
	if err != nil {
		t.Fatalf("reveal failed: %v", err)
	}
	if v != 12345 {
		t.Errorf("reveal = %d, want 12345", v)
	}
}

func TestHandlesAreUnique(t *testing.T) {
	b := newBackend(t)

	h1, _ := b.Encrypt(7)
	h2, _ := b.Encrypt(7)
	if h1 == h2 {
		t.Error("two encryptions of the same value produced the same handle")
	}
}

func TestAddSub(t *testing.T) {
	b := newBackend(t)

	a, _ := b.Encrypt(1000)
	x, _ := b.Encrypt(250)

	sum, err := b.Add(a, x)
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if v, _ := b.Reveal(sum); v != 1250 {
		t.Errorf("sum = %d, want 1250", v)
	}

	diff, err := b.Sub(sum, x)
	if err != nil {
		t.Fatalf("sub failed: %v", err)
	}
	if v, _ := b.Reveal(diff); v != 1000 {
		t.Errorf("diff = %d, want 1000", v)
	}
}

func TestComparePredicates(t *testing.T) {
	b := newBackend(t)

	lo, _ := b.Encrypt(10)
	hi, _ := b.Encrypt(20)

	gte, err := b.Gte(hi, lo)
	if err != nil {
		t.Fatalf("gte failed: %v", err)
	}
	if err := b.RequireTrue(gte); err != nil {
		t.Errorf("20 >= 10 should hold: %v", err)
	}

	gte2, _ := b.Gte(lo, hi)
	if err := b.RequireTrue(gte2); !errors.Is(err, ErrPredicateFalse) {
		t.Errorf("10 >= 20 should fail with ErrPredicateFalse, got %v", err)
	}

	lte, _ := b.Lte(lo, hi)
	if err := b.RequireTrue(lte); err != nil {
		t.Errorf("10 <= 20 should hold: %v", err)
	}

	// Equality satisfies both predicates
	lo2, _ := b.Encrypt(10)
	eq, _ := b.Gte(lo, lo2)
	if err := b.RequireTrue(eq); err != nil {
		t.Errorf("10 >= 10 should hold: %v", err)
	}
}

func TestUnknownHandle(t *testing.T) {
	b := newBackend(t)
	other := newBackend(t)

	foreign, _ := other.Encrypt(1)
	if _, err := b.Reveal(foreign); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("foreign handle should be unknown, got %v", err)
	}

	known, _ := b.Encrypt(1)
	if _, err := b.Add(known, foreign); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("add with foreign handle should fail, got %v", err)
	}
}

func TestResealUnsealRoundTrip(t *testing.T) {
	b := newBackend(t)

	pub, priv, err := GenerateRecipientKey()
	if err != nil {
		t.Fatalf("keygen failed: %v", err)
	}

	h, _ := b.Encrypt(987654321)
	sealed, err := b.Reseal(h, pub)
	if err != nil {
		t.Fatalf("reseal failed: %v", err)
	}

	v, err := Unseal(priv, sealed)
	if err != nil {
		t.Fatalf("unseal failed: %v", err)
	}
	if v != 987654321 {
		t.Errorf("unsealed = %d, want 987654321", v)
	}

	// A different key cannot open it
	_, otherPriv, _ := GenerateRecipientKey()
	if _, err := Unseal(otherPriv, sealed); err == nil {
		t.Error("unseal with wrong key should fail")
	}
}

func TestResealBadRecipientKey(t *testing.T) {
	b := newBackend(t)
	h, _ := b.Encrypt(1)

	if _, err := b.Reseal(h, []byte{0x01, 0x02}); !errors.Is(err, ErrBadRecipientKey) {
		t.Errorf("short recipient key should fail with ErrBadRecipientKey, got %v", err)
	}
}
