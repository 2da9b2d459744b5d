package dkim

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	kp, err := GenerateKey("example.com", "news", 0)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if kp.PrivateKey.N.BitLen() != DefaultKeyBits {
		t.Errorf("key size = %d, want %d", kp.PrivateKey.N.BitLen(), DefaultKeyBits)
	}

	if _, err := GenerateKey("example.com", "news", 512); err == nil {
		t.Error("expected error for 512-bit key")
	}
}

func TestDNSNameAndRecord(t *testing.T) {
	kp := testKeyPair(t)

	if got := kp.DNSName(); got != "news._domainkey.example.com" {
		t.Errorf("DNSName() = %q", got)
	}

	record, err := kp.DNSRecord()
	if err != nil {
		t.Fatalf("DNSRecord() error = %v", err)
	}
	if !strings.HasPrefix(record, "v=DKIM1; k=rsa; p=") {
		t.Errorf("DNSRecord() = %q", record)
	}
}

func TestSaveAndLoadPrivateKey(t *testing.T) {
	kp := testKeyPair(t)
	path := filepath.Join(t.TempDir(), "dkim.key")

	if err := kp.SavePrivateKey(path); err != nil {
		t.Fatalf("SavePrivateKey() error = %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("key file mode = %o, want 600", perm)
		}
	}

	loaded, err := LoadPrivateKey(path)
	if err != nil {
		t.Fatalf("LoadPrivateKey() error = %v", err)
	}
	if !loaded.Equal(kp.PrivateKey) {
		t.Error("loaded key differs from saved key")
	}
}

func TestLoadPrivateKeyPKCS8(t *testing.T) {
	kp := testKeyPair(t)
	der, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "pkcs8.key")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadPrivateKey(path)
	if err != nil {
		t.Fatalf("LoadPrivateKey() error = %v", err)
	}
	if !loaded.Equal(kp.PrivateKey) {
		t.Error("loaded key differs from saved key")
	}
}

func TestLoadPrivateKeyErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"not PEM", "garbage"},
		{"unsupported type", string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("x")}))},
		{"corrupt RSA", string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: []byte("x")}))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_"))
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadPrivateKey(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}
