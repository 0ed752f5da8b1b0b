package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	key := []byte("device-key")
	plaintext := []byte("secret-token-value")

	sealed, err := Seal(plaintext, key)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if strings.Contains(sealed, string(plaintext)) {
		t.Error("sealed output contains the plaintext")
	}

	opened, err := Open(sealed, key)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Errorf("Open() = %q, want %q", opened, plaintext)
	}
}

func TestSeal_NonceVaries(t *testing.T) {
	key := []byte("device-key")

	a, err := Seal([]byte("same input"), key)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	b, err := Seal([]byte("same input"), key)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if a == b {
		t.Error("two Seal() calls produced identical output")
	}
}

func TestOpen_WrongKey(t *testing.T) {
	sealed, err := Seal([]byte("secret"), []byte("right-key"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if _, err := Open(sealed, []byte("wrong-key")); err != ErrInvalidCiphertext {
		t.Errorf("Open() with wrong key error = %v, want ErrInvalidCiphertext", err)
	}
}

func TestOpen_GarbageInput(t *testing.T) {
	key := []byte("device-key")

	for _, input := range []string{"", "not base64 %%", "c2hvcnQ="} {
		if _, err := Open(input, key); err != ErrInvalidCiphertext {
			t.Errorf("Open(%q) error = %v, want ErrInvalidCiphertext", input, err)
		}
	}
}

func TestSeal_EmptyKey(t *testing.T) {
	if _, err := Seal([]byte("data"), nil); err != ErrInvalidKey {
		t.Errorf("Seal() with empty key error = %v, want ErrInvalidKey", err)
	}
	if _, err := Open("abcd", nil); err != ErrInvalidKey {
		t.Errorf("Open() with empty key error = %v, want ErrInvalidKey", err)
	}
}

func TestMachineKey_Deterministic(t *testing.T) {
	a := MachineKey("machine-1")
	b := MachineKey("machine-1")
	c := MachineKey("machine-2")

	if !bytes.Equal(a, b) {
		t.Error("MachineKey() not deterministic for the same identifier")
	}
	if bytes.Equal(a, c) {
		t.Error("MachineKey() identical for different identifiers")
	}
	if len(a) != 32 {
		t.Errorf("MachineKey() length = %d, want 32", len(a))
	}
}

func TestMachineKey_EmptyIdentifierIsStable(t *testing.T) {
	a := MachineKey("")
	b := MachineKey("")
	if !bytes.Equal(a, b) {
		t.Error("MachineKey(\"\") not stable across calls")
	}
}
