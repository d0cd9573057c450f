package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltLen        = 16
	aesKeyLen      = 32
	keyFileVersion = 1
)

// kdfIterations is the PBKDF2-HMAC-SHA256 work factor.
var kdfIterations = 480_000

// keyFile is the on-disk format written by EncryptKey. Binary fields are
// standard base64.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address,omitempty"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig names where an operator key comes from. A raw key wins over an
// encrypted file.
type KeyConfig struct {
	RawPrivateKey    string
	EncryptedKeyPath string
	KeyPassword      string
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New))
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals a hex private key under password (PBKDF2 then
// AES-256-GCM) and returns the JSON key file.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	signer, err := NewSigner(privateKeyHex)
	if err != nil {
		return nil, err
	}
	plain, _ := hex.DecodeString(signer.PrivateKeyHex())

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(password, salt, kdfIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	return json.MarshalIndent(keyFile{
		Version:    keyFileVersion,
		Address:    signer.Address().Hex(),
		Iterations: kdfIterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, plain, nil)),
	}, "", "  ")
}

// DecryptKey opens a key file written by EncryptKey and returns the hex
// private key without 0x.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if kf.Iterations <= 0 {
		return "", errors.New("crypto: key file has no iteration count")
	}

	var salt, nonce, ciphertext []byte
	for _, f := range []struct {
		name string
		in   string
		out  *[]byte
	}{{"salt", kf.Salt, &salt}, {"nonce", kf.Nonce, &nonce}, {"ciphertext", kf.Ciphertext, &ciphertext}} {
		b, err := base64.StdEncoding.DecodeString(f.in)
		if err != nil {
			return "", fmt.Errorf("crypto: decode %s: %w", f.name, err)
		}
		*f.out = b
	}

	gcm, err := newGCM(password, salt, kf.Iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce is %d bytes, want %d", len(nonce), gcm.NonceSize())
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decrypt (wrong password?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// LoadSigner resolves the operator key from cfg.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	if raw := strings.TrimSpace(cfg.RawPrivateKey); raw != "" {
		return NewSigner(raw)
	}
	if cfg.EncryptedKeyPath == "" {
		return nil, errors.New("crypto: no key source configured")
	}
	data, err := os.ReadFile(cfg.EncryptedKeyPath)
	if err != nil {
		return nil, fmt.Errorf("crypto: read key file: %w", err)
	}
	keyHex, err := DecryptKey(data, cfg.KeyPassword)
	if err != nil {
		return nil, err
	}
	return NewSigner(keyHex)
}
