package certstore

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// ErrAuthenticationFailed is returned when a peer presents a certificate
// that does not match the one pinned for its device id.
var ErrAuthenticationFailed = errors.New("certstore: peer certificate does not match pinned identity")

const pinsFileName = "peers.toml"

// pinsFile is the on-disk TOML representation of a Pinstore: device id
// to base64 DER certificate, one entry per paired peer ever seen.
type pinsFile struct {
	Peers map[string]string `toml:"peers"`
}

// Pinstore implements trust-on-first-use peer certificate pinning: the
// first certificate seen for a device id is remembered, and every
// subsequent connection from that id must present the identical
// certificate.
type Pinstore struct {
	path string

	mu    sync.Mutex
	peers map[string][]byte // deviceID -> DER bytes
}

// OpenPinstore loads (or initializes) the pin store at dir/peers.toml.
func OpenPinstore(dir string) (*Pinstore, error) {
	path := filepath.Join(dir, pinsFileName)
	ps := &Pinstore{path: path, peers: make(map[string][]byte)}

	var f pinsFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ps, nil
		}
		return nil, fmt.Errorf("reading pin store %s: %w", path, err)
	}
	for id, encoded := range f.Peers {
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding pinned certificate for %q: %w", id, err)
		}
		ps.peers[id] = der
	}
	return ps, nil
}

// Lookup returns the pinned certificate for deviceID, if any.
func (ps *Pinstore) Lookup(deviceID string) (*x509.Certificate, bool) {
	ps.mu.Lock()
	der, ok := ps.peers[deviceID]
	ps.mu.Unlock()
	if !ok {
		return nil, false
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, false
	}
	return cert, true
}

// Accept applies the trust-on-first-use policy: if no certificate is
// pinned for deviceID, cert is accepted (but not yet pinned — callers
// pin it once pairing is confirmed, via Trust). If one is pinned, cert
// must match byte-for-byte or ErrAuthenticationFailed is returned.
func (ps *Pinstore) Accept(deviceID string, cert *x509.Certificate) error {
	ps.mu.Lock()
	der, ok := ps.peers[deviceID]
	ps.mu.Unlock()
	if !ok {
		return nil
	}
	if !bytes.Equal(der, cert.Raw) {
		return ErrAuthenticationFailed
	}
	return nil
}

// Trust pins cert as the trusted identity for deviceID and persists the
// store. Called once pairing is confirmed (RequestedByUs/RequestedByPeer
// -> Paired).
func (ps *Pinstore) Trust(deviceID string, cert *x509.Certificate) error {
	ps.mu.Lock()
	ps.peers[deviceID] = append([]byte(nil), cert.Raw...)
	ps.mu.Unlock()
	return ps.save()
}

// Forget removes the pinned certificate for deviceID (pairing revoked)
// and persists the store.
func (ps *Pinstore) Forget(deviceID string) error {
	ps.mu.Lock()
	delete(ps.peers, deviceID)
	ps.mu.Unlock()
	return ps.save()
}

func (ps *Pinstore) save() error {
	ps.mu.Lock()
	f := pinsFile{Peers: make(map[string]string, len(ps.peers))}
	for id, der := range ps.peers {
		f.Peers[id] = base64.StdEncoding.EncodeToString(der)
	}
	ps.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(ps.path), 0755); err != nil {
		return fmt.Errorf("creating pin store directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("encoding pin store: %w", err)
	}
	if err := os.WriteFile(ps.path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing pin store %s: %w", ps.path, err)
	}
	return nil
}
