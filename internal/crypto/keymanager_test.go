package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "correct horse battery staple")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	got, err := DecryptKey(blob, "correct horse battery staple")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKeyHex {
		t.Fatalf("round trip = %s, expected %s", got, testKeyHex)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "right")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("expected decryption failure with the wrong password")
	}
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	if _, err := EncryptKey(testKeyHex, ""); err == nil {
		t.Fatal("expected error for empty password")
	}
	if _, err := EncryptKey("zz", "pw"); err == nil {
		t.Fatal("expected error for non-hex key")
	}
	if _, err := EncryptKey("abcd", "pw"); err == nil {
		t.Fatal("expected error for short key")
	}
}

func TestLoadKeyPrecedence(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "pw")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Raw key wins even when a file is also configured.
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("LoadKey raw: %v", err)
	}
	if got != testKeyHex {
		t.Fatalf("LoadKey raw = %s, expected %s", got, testKeyHex)
	}

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("LoadKey file: %v", err)
	}
	if got != testKeyHex {
		t.Fatalf("LoadKey file = %s, expected %s", got, testKeyHex)
	}

	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("expected error with no key source")
	}
}

func TestHMACHeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "c2VjcmV0LWJ5dGVz", Passphrase: "pp"}

	a := auth.HeadersAt("0xabc", "POST", "/v1/legs", `{"venue":"v1"}`, 1_700_000_000)
	b := auth.HeadersAt("0xabc", "POST", "/v1/legs", `{"venue":"v1"}`, 1_700_000_000)
	if a["FA-SIGNATURE"] != b["FA-SIGNATURE"] {
		t.Fatal("same inputs must produce the same signature")
	}
	if a["FA-TIMESTAMP"] != "1700000000" || a["FA-API-KEY"] != "key-1" || a["FA-ADDRESS"] != "0xabc" {
		t.Fatalf("unexpected headers: %v", a)
	}

	c := auth.HeadersAt("0xabc", "POST", "/v1/legs", `{"venue":"v2"}`, 1_700_000_000)
	if a["FA-SIGNATURE"] == c["FA-SIGNATURE"] {
		t.Fatal("different bodies must produce different signatures")
	}
}

func TestHMACStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "key-123456", Secret: "secret-123456"}
	s := auth.String()
	if strings.Contains(s, "123456") {
		t.Fatalf("String leaked credentials: %s", s)
	}
}
