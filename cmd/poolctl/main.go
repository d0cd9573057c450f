// Command poolctl manages operator keys and signs in to a running poolsd.
//
//	poolctl keygen [-out key.json]          generate a key, optionally encrypted
//	poolctl encrypt-key -out key.json       encrypt POOLS_PRIVATE_KEY to a file
//	poolctl address                         print the configured key's address
//	poolctl sign-challenge [-in msg.txt]    sign a login challenge
//	poolctl login -url http://host:8000     fetch, sign and redeem a challenge
//
// The key comes from POOLS_PRIVATE_KEY, or from -key-file with the password
// in POOLS_KEY_PASSWORD.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/alanyoungcy/cricketpools/internal/crypto"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "keygen":
		err = keygen(args)
	case "encrypt-key":
		err = encryptKey(args)
	case "address":
		err = address(args)
	case "sign-challenge":
		err = signChallenge(args)
	case "login":
		err = login(args)
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "poolctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: poolctl <keygen|encrypt-key|address|sign-challenge|login> [flags]")
}

// keySource registers the flags shared by commands that need a signer.
func keySource(fs *flag.FlagSet) func() (*crypto.Signer, error) {
	keyFile := fs.String("key-file", os.Getenv("POOLS_KEY_FILE"), "encrypted key file")
	return func() (*crypto.Signer, error) {
		return crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    os.Getenv("POOLS_PRIVATE_KEY"),
			EncryptedKeyPath: *keyFile,
			KeyPassword:      os.Getenv("POOLS_KEY_PASSWORD"),
		})
	}
}

func keygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "", "write the key encrypted with POOLS_KEY_PASSWORD to this file")
	_ = fs.Parse(args)

	signer, err := crypto.GenerateSigner()
	if err != nil {
		return err
	}
	if *out == "" {
		fmt.Printf("address:     %s\nprivate key: %s\n", signer.Address().Hex(), signer.PrivateKeyHex())
		return nil
	}
	if err := writeEncrypted(*out, signer.PrivateKeyHex()); err != nil {
		return err
	}
	fmt.Printf("address: %s\nkey file: %s\n", signer.Address().Hex(), *out)
	return nil
}

func encryptKey(args []string) error {
	fs := flag.NewFlagSet("encrypt-key", flag.ExitOnError)
	out := fs.String("out", "", "output file")
	_ = fs.Parse(args)

	raw := os.Getenv("POOLS_PRIVATE_KEY")
	if raw == "" || *out == "" {
		return errors.New("POOLS_PRIVATE_KEY and -out are required")
	}
	signer, err := crypto.NewSigner(raw)
	if err != nil {
		return err
	}
	if err := writeEncrypted(*out, signer.PrivateKeyHex()); err != nil {
		return err
	}
	fmt.Printf("address: %s\nkey file: %s\n", signer.Address().Hex(), *out)
	return nil
}

func writeEncrypted(path, keyHex string) error {
	password := os.Getenv("POOLS_KEY_PASSWORD")
	if password == "" {
		return errors.New("POOLS_KEY_PASSWORD is required to encrypt a key")
	}
	data, err := crypto.EncryptKey(keyHex, password)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func address(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	load := keySource(fs)
	_ = fs.Parse(args)

	signer, err := load()
	if err != nil {
		return err
	}
	fmt.Println(signer.Address().Hex())
	return nil
}

func signChallenge(args []string) error {
	fs := flag.NewFlagSet("sign-challenge", flag.ExitOnError)
	load := keySource(fs)
	in := fs.String("in", "-", "file holding the challenge message, - for stdin")
	_ = fs.Parse(args)

	signer, err := load()
	if err != nil {
		return err
	}
	var msg []byte
	if *in == "-" {
		msg, err = io.ReadAll(os.Stdin)
	} else {
		msg, err = os.ReadFile(*in)
	}
	if err != nil {
		return err
	}
	sig, err := signer.SignMessage(msg)
	if err != nil {
		return err
	}
	fmt.Println(sig)
	return nil
}

func login(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	load := keySource(fs)
	baseURL := fs.String("url", "http://localhost:8000", "poolsd base URL")
	_ = fs.Parse(args)

	signer, err := load()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	base := strings.TrimRight(*baseURL, "/")
	addr := signer.Address().Hex()

	var challenge struct {
		Message string `json:"message"`
	}
	if err := postJSON(ctx, base+"/api/auth/challenge", map[string]string{"address": addr}, &challenge); err != nil {
		return fmt.Errorf("challenge: %w", err)
	}
	sig, err := signer.SignMessage([]byte(challenge.Message))
	if err != nil {
		return err
	}

	var token struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	body := map[string]string{"address": addr, "message": challenge.Message, "signature": sig}
	if err := postJSON(ctx, base+"/api/auth/login", body, &token); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	fmt.Println(token.Token)
	fmt.Fprintf(os.Stderr, "token for %s expires %s\n", addr, token.ExpiresAt.Format(time.RFC3339))
	return nil
}

func postJSON(ctx context.Context, url string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
