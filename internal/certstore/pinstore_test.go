package certstore

import (
	"errors"
	"testing"
)

func TestPinstore_acceptFirstSeen(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}

	ps, err := OpenPinstore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenPinstore() error: %v", err)
	}

	if err := ps.Accept(id.DeviceID, id.Cert); err != nil {
		t.Fatalf("Accept() on unknown device = %v, want nil", err)
	}
}

func TestPinstore_trustAndReject(t *testing.T) {
	trusted, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}
	impostor, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}

	ps, err := OpenPinstore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenPinstore() error: %v", err)
	}

	if err := ps.Trust(trusted.DeviceID, trusted.Cert); err != nil {
		t.Fatalf("Trust() error: %v", err)
	}

	if err := ps.Accept(trusted.DeviceID, trusted.Cert); err != nil {
		t.Errorf("Accept() for pinned match = %v, want nil", err)
	}

	err = ps.Accept(trusted.DeviceID, impostor.Cert)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("Accept() for mismatched cert = %v, want ErrAuthenticationFailed", err)
	}
}

func TestPinstore_persistsAcrossReload(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}

	dir := t.TempDir()

	ps, err := OpenPinstore(dir)
	if err != nil {
		t.Fatalf("OpenPinstore() error: %v", err)
	}
	if err := ps.Trust(id.DeviceID, id.Cert); err != nil {
		t.Fatalf("Trust() error: %v", err)
	}

	reloaded, err := OpenPinstore(dir)
	if err != nil {
		t.Fatalf("OpenPinstore() (reload) error: %v", err)
	}

	got, ok := reloaded.Lookup(id.DeviceID)
	if !ok {
		t.Fatal("Lookup() after reload: not found")
	}
	if !IsSame(got, id.Cert) {
		t.Error("reloaded certificate does not match trusted certificate")
	}
}

func TestPinstore_forget(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error: %v", err)
	}

	ps, err := OpenPinstore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenPinstore() error: %v", err)
	}
	if err := ps.Trust(id.DeviceID, id.Cert); err != nil {
		t.Fatalf("Trust() error: %v", err)
	}
	if err := ps.Forget(id.DeviceID); err != nil {
		t.Fatalf("Forget() error: %v", err)
	}

	if _, ok := ps.Lookup(id.DeviceID); ok {
		t.Fatal("Lookup() after Forget() found an entry, want none")
	}

	// Forgotten devices are trust-on-first-use again.
	if err := ps.Accept(id.DeviceID, id.Cert); err != nil {
		t.Errorf("Accept() after Forget() = %v, want nil", err)
	}
}
