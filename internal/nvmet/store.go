package nvmet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultRoot is the nvmet configfs mount.
const DefaultRoot = "/sys/kernel/config/nvmet"

// Port and referral attribute names.
const (
	AttrTransportType    = "addr_trtype"
	AttrAddressFamily    = "addr_adrfam"
	AttrTransportAddress = "addr_traddr"
	AttrServiceID        = "addr_trsvcid"
	AttrSubtype          = "addr_subtype"
	AttrEnable           = "enable"
)

var ErrStoreUnavailable = errors.New("nvmet: port store unavailable")

// AttrError locates a failed attribute access.
type AttrError struct {
	Port string
	// Referral is set for writes under ports/<port>/referrals/<name>.
	Referral string
	Attr     string
	Err      error
}

func (e *AttrError) Error() string {
	if e.Referral != "" {
		return fmt.Sprintf("nvmet: port %s referral %s %s: %v", e.Port, e.Referral, e.Attr, e.Err)
	}
	return fmt.Sprintf("nvmet: port %s %s: %v", e.Port, e.Attr, e.Err)
}

func (e *AttrError) Unwrap() error {
	return e.Err
}

// Store is the hierarchical port attribute store the kernel target exposes.
type Store interface {
	// PortIDs lists port entries in store order.
	PortIDs() ([]string, error)
	ReadPortAttr(port, attr string) (string, error)
	// MakeReferral creates ports/<port>/referrals/<name>. An existing entry
	// is reported with an error matching fs.ErrExist.
	MakeReferral(port, name string) error
	WriteReferralAttr(port, name, attr, value string) error
}

// FSStore is a Store over a configfs style directory tree.
type FSStore struct {
	root string
}

// NewFSStore returns a store rooted at root, or DefaultRoot when empty.
func NewFSStore(root string) *FSStore {
	resolved := strings.TrimSpace(root)
	if resolved == "" {
		resolved = DefaultRoot
	}
	return &FSStore{root: resolved}
}

func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) PortIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "ports"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

func (s *FSStore) ReadPortAttr(port, attr string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.portDir(port), attr))
	if err != nil {
		return "", &AttrError{Port: port, Attr: attr, Err: err}
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FSStore) MakeReferral(port, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.Mkdir(s.referralDir(port, name), 0o755); err != nil {
		return fmt.Errorf("nvmet: port %s referral %s: %w", port, name, err)
	}
	return nil
}

func (s *FSStore) WriteReferralAttr(port, name, attr, value string) error {
	path := filepath.Join(s.referralDir(port, name), attr)
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return &AttrError{Port: port, Referral: name, Attr: attr, Err: err}
	}
	return nil
}

func (s *FSStore) portDir(port string) string {
	return filepath.Join(s.root, "ports", port)
}

func (s *FSStore) referralDir(port, name string) string {
	return filepath.Join(s.portDir(port), "referrals", name)
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("nvmet: invalid referral name %q", name)
	}
	return nil
}
