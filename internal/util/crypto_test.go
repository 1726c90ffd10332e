package util

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureCertificate(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "api.crt")
	key := filepath.Join(dir, "api.key")

	if err := EnsureCertificate(cert, key, []string{"localhost", "127.0.0.1"}); err != nil {
		t.Fatalf("EnsureCertificate: %v", err)
	}
	pair, err := tls.LoadX509KeyPair(cert, key)
	if err != nil {
		t.Fatalf("LoadX509KeyPair: %v", err)
	}
	if len(pair.Certificate) == 0 {
		t.Fatal("no certificate in pair")
	}

	before, _ := os.ReadFile(cert)
	if err := EnsureCertificate(cert, key, nil); err != nil {
		t.Fatalf("second EnsureCertificate: %v", err)
	}
	after, _ := os.ReadFile(cert)
	if string(before) != string(after) {
		t.Error("existing certificate was replaced")
	}
}
