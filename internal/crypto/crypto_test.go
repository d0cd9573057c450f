package crypto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// Hardhat's first default account.
const (
	testKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestSignAndRecover(t *testing.T) {
	s, err := NewSigner(testKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	if s.Address() != common.HexToAddress(testAddress) {
		t.Fatalf("address = %s, want %s", s.Address().Hex(), testAddress)
	}

	msg := []byte("join pool 1")
	sig, err := s.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	if err := VerifyMessage(s.Address(), msg, sig); err != nil {
		t.Errorf("VerifyMessage: %v", err)
	}
	if err := VerifyMessage(s.Address(), []byte("join pool 2"), sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered message err = %v, want ErrBadSignature", err)
	}

	other, _ := GenerateSigner()
	if err := VerifyMessage(other.Address(), msg, sig); !errors.Is(err, ErrBadSignature) {
		t.Errorf("wrong signer err = %v, want ErrBadSignature", err)
	}
	for _, bad := range []string{"", "0x1234", "zz"} {
		if _, err := RecoverAddress(msg, bad); !errors.Is(err, ErrBadSignature) {
			t.Errorf("RecoverAddress(%q) err = %v", bad, err)
		}
	}
}

func TestMAC(t *testing.T) {
	if _, err := NewMAC([]byte("short"), "x"); err == nil {
		t.Fatal("short secret accepted")
	}
	secret := []byte("0123456789abcdef0123")
	a, _ := NewMAC(secret, "login")
	b, _ := NewMAC(secret, "other")

	tag := a.Sum("hello")
	if !a.Verify("hello", tag) {
		t.Error("valid tag rejected")
	}
	if a.Verify("hello!", tag) || b.Verify("hello", tag) || a.Verify("hello", "!!") {
		t.Error("invalid tag accepted")
	}
}

func TestKeyFileRoundTrip(t *testing.T) {
	kdfIterations = 1000
	defer func() { kdfIterations = 480_000 }()

	data, err := EncryptKey(testKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if _, err := DecryptKey(data, "wrong"); err == nil {
		t.Error("wrong password accepted")
	}

	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	if err != nil {
		t.Fatalf("LoadSigner: %v", err)
	}
	if s.Address() != common.HexToAddress(testAddress) {
		t.Errorf("address = %s", s.Address().Hex())
	}
	if _, err := LoadSigner(KeyConfig{}); err == nil {
		t.Error("empty config accepted")
	}
}
