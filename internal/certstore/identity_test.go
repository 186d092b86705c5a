package certstore

import (
	"crypto/x509"
	"testing"
)

func TestGenerateIdentity(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}

	if id.DeviceID == "" {
		t.Fatal("generated identity has empty device id")
	}
	if len(id.DeviceID) != 32 {
		t.Errorf("device id length = %d, want 32", len(id.DeviceID))
	}
	if id.Cert.Subject.CommonName != id.DeviceID {
		t.Errorf("cert CN = %q, want %q", id.Cert.Subject.CommonName, id.DeviceID)
	}
}

func TestGenerateIdentity_unique(t *testing.T) {
	a, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}
	b, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}
	if a.DeviceID == b.DeviceID {
		t.Fatal("two generated identities have the same device id")
	}
	if IsSame(a.Cert, b.Cert) {
		t.Fatal("two generated identities produced the same certificate")
	}
}

func TestLoadOrGenerateIdentity_persistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrGenerateIdentity(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerateIdentity() error: %v", err)
	}

	second, err := LoadOrGenerateIdentity(dir)
	if err != nil {
		t.Fatalf("LoadOrGenerateIdentity() (reload) error: %v", err)
	}

	if first.DeviceID != second.DeviceID {
		t.Errorf("device id changed across reload: %q != %q", first.DeviceID, second.DeviceID)
	}
	if !IsSame(first.Cert, second.Cert) {
		t.Error("reloaded identity has a different certificate")
	}
}

func TestFingerprint_deterministic(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}

	f1 := id.Fingerprint()
	f2 := Fingerprint(id.Cert)
	if f1 != f2 {
		t.Errorf("Fingerprint mismatch: %q != %q", f1, f2)
	}
	if f1 == "" {
		t.Fatal("fingerprint is empty")
	}
}

func TestIsSame(t *testing.T) {
	a, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}
	b, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}

	if !IsSame(a.Cert, a.Cert) {
		t.Error("IsSame(a, a) = false, want true")
	}
	if IsSame(a.Cert, b.Cert) {
		t.Error("IsSame(a, b) = true, want false")
	}
	if IsSame(nil, a.Cert) {
		t.Error("IsSame(nil, a) = true, want false")
	}
	var nilCert *x509.Certificate
	if !IsSame(nilCert, nilCert) {
		t.Error("IsSame(nil, nil) = false, want true")
	}
}
