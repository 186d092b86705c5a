package manager

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/kuuji/valent/internal/device"
)

const indexFileName = "devices.json"

// indexEntry is the persisted record for a single device: enough to
// reconstruct a Paired-but-disconnected device.Device at startup without
// waiting to see the peer again on the network.
type indexEntry struct {
	ID                   string   `json:"id"`
	Name                 string   `json:"name"`
	Type                 string   `json:"type"`
	IncomingCapabilities []string `json:"incomingCapabilities"`
	OutgoingCapabilities []string `json:"outgoingCapabilities"`
	PeerCertificatePEM   string   `json:"peerCertificatePem"`
	Paired               bool     `json:"paired"`
}

// indexFile is the on-disk JSON representation of the whole index.
type indexFile struct {
	Devices []indexEntry `json:"devices"`
}

// index is the device cache persisted to disk: one entry per device ever
// paired with, so a restart doesn't forget who we trust. Unlike
// certstore.Pinstore (which only remembers the certificate), the index
// also remembers names and capabilities so the device list is populated
// before the peer is seen again on the network.
type index struct {
	path string

	mu      sync.Mutex
	entries map[string]indexEntry
}

// openIndex loads (or initializes) the device index at dir/devices.json.
func openIndex(dir string) (*index, error) {
	path := filepath.Join(dir, indexFileName)
	idx := &index{path: path, entries: make(map[string]indexEntry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return idx, nil
		}
		return nil, fmt.Errorf("reading device index %s: %w", path, err)
	}

	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding device index %s: %w", path, err)
	}
	for _, e := range f.Devices {
		idx.entries[e.ID] = e
	}
	return idx, nil
}

// Entries returns a snapshot of every persisted entry.
func (idx *index) Entries() []indexEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	out := make([]indexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		out = append(out, e)
	}
	return out
}

// Put records or overwrites a device's entry and persists the index.
func (idx *index) Put(e indexEntry) error {
	idx.mu.Lock()
	idx.entries[e.ID] = e
	idx.mu.Unlock()
	return idx.save()
}

// Remove drops a device's entry (used when an Unpaired device is
// removed entirely) and persists the index.
func (idx *index) Remove(id string) error {
	idx.mu.Lock()
	delete(idx.entries, id)
	idx.mu.Unlock()
	return idx.save()
}

func (idx *index) save() error {
	idx.mu.Lock()
	f := indexFile{Devices: make([]indexEntry, 0, len(idx.entries))}
	for _, e := range idx.entries {
		f.Devices = append(f.Devices, e)
	}
	idx.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(idx.path), 0755); err != nil {
		return fmt.Errorf("creating device index directory: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding device index: %w", err)
	}
	if err := os.WriteFile(idx.path, data, 0600); err != nil {
		return fmt.Errorf("writing device index %s: %w", idx.path, err)
	}
	return nil
}

// entryFromDevice captures a device's current state as a persistable
// entry. The capability lists recorded are the peer's own advertised
// capabilities (not this device's local config), since that's what a
// freshly restored Device needs to compute its active plugin set before
// the peer is seen live again.
func entryFromDevice(d *device.Device) indexEntry {
	e := indexEntry{
		ID:                   d.ID(),
		Name:                 d.Name(),
		Type:                 d.Type(),
		IncomingCapabilities: d.PeerIncomingCapabilities(),
		OutgoingCapabilities: d.PeerOutgoingCapabilities(),
		Paired:               d.PairState() == device.Paired,
	}
	if cert := d.PeerCertificate(); cert != nil {
		e.PeerCertificatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
	}
	return e
}

// parseCertificate decodes the entry's stored PEM certificate, if any.
func (e indexEntry) parseCertificate() (*x509.Certificate, error) {
	if e.PeerCertificatePEM == "" {
		return nil, nil
	}
	block, _ := pem.Decode([]byte(e.PeerCertificatePEM))
	if block == nil {
		return nil, fmt.Errorf("device %s: no PEM block in stored certificate", e.ID)
	}
	return x509.ParseCertificate(block.Bytes)
}
