package crypto

import (
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	addr := MustNewAddress(MarketPrefix, raw)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, "nhb1") {
		t.Fatalf("unexpected encoding %s", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Array() != addr.Array() || decoded.Prefix() != MarketPrefix {
		t.Fatalf("round trip mismatch: %v vs %v", decoded, addr)
	}

	raw[0] = 0xFF
	if addr.Bytes()[0] != 1 {
		t.Fatalf("address must not alias its input")
	}
}

func TestNewAddressRejectsBadLength(t *testing.T) {
	if _, err := NewAddress(MarketPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestParseAccountAcceptsHex(t *testing.T) {
	addr, err := ParseAccount("0x0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a0a")
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	var want [20]byte
	for i := range want {
		want[i] = 0x0a
	}
	if addr.Array() != want || addr.Prefix() != MarketPrefix {
		t.Fatalf("unexpected address %v", addr)
	}
	if _, err := ParseAccount("0x1234"); err == nil {
		t.Fatalf("expected short hex to be rejected")
	}
	if _, err := ParseAccount("not-an-address"); err == nil {
		t.Fatalf("expected garbage to be rejected")
	}
}

func TestAddressTextMarshalling(t *testing.T) {
	var want [20]byte
	want[19] = 0x71
	item := MustNewAddress(ItemPrefix, want[:])
	text, err := item.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Address
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Array() != want || decoded.Prefix() != ItemPrefix {
		t.Fatalf("unexpected decoded address %v", decoded)
	}
	if err := decoded.UnmarshalText([]byte("  ")); err != nil || !decoded.IsZero() {
		t.Fatalf("blank text must decode to the zero address")
	}
}
