package nvmet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/kdctl/internal/record"
	logs "github.com/danmuck/smplog"
)

var ErrNoPortsAvailable = errors.New("nvmet: no ports available")

// SkippedPort is a store entry left out of the enumeration.
type SkippedPort struct {
	PortID string
	Err    error
}

// Enumeration is the outcome of walking the store.
type Enumeration struct {
	Ports   []record.Port
	Skipped []SkippedPort
}

// Enumerate reads every port entry in store order and builds the records a
// target can register. Loop and pci ports are never included. A failing
// entry is skipped; an unreadable store or an empty result returns
// ErrNoPortsAvailable alongside whatever was collected.
func Enumerate(store Store) (Enumeration, error) {
	var out Enumeration
	ids, err := store.PortIDs()
	if err != nil {
		logs.Errorf(err, "nvmet.Enumerate list ports")
		return out, fmt.Errorf("%w: %v", ErrNoPortsAvailable, err)
	}
	for _, id := range ids {
		p, err := readPort(store, id)
		if err != nil {
			logs.Warnf("nvmet.Enumerate skip port=%s err=%v", id, err)
			out.Skipped = append(out.Skipped, SkippedPort{PortID: id, Err: err})
			continue
		}
		logs.Debugf("nvmet.Enumerate port=%s record=%s", id, p)
		out.Ports = append(out.Ports, p)
	}
	if len(out.Ports) == 0 {
		return out, fmt.Errorf("%w: %d entries, none registrable", ErrNoPortsAvailable, len(ids))
	}
	return out, nil
}

var ErrNotRemotable = errors.New("nvmet: transport not remotely reachable")

func readPort(store Store, id string) (record.Port, error) {
	trtype, err := store.ReadPortAttr(id, AttrTransportType)
	if err != nil {
		return record.Port{}, err
	}
	switch strings.ToLower(trtype) {
	case "", "loop", "pci":
		return record.Port{}, fmt.Errorf("%w: %q", ErrNotRemotable, trtype)
	}
	tr, err := record.ParseTransportType(trtype)
	if err != nil {
		return record.Port{}, &AttrError{Port: id, Attr: AttrTransportType, Err: err}
	}

	adrfam, err := store.ReadPortAttr(id, AttrAddressFamily)
	if err != nil {
		return record.Port{}, err
	}
	traddr, err := store.ReadPortAttr(id, AttrTransportAddress)
	if err != nil {
		return record.Port{}, err
	}
	trsvcid, err := store.ReadPortAttr(id, AttrServiceID)
	if err != nil {
		return record.Port{}, err
	}
	fam, err := record.ParseAddressFamily(adrfam)
	if err != nil {
		return record.Port{}, &AttrError{Port: id, Attr: AttrAddressFamily, Err: err}
	}

	p := record.Port{
		PortID:           id,
		TransportType:    tr,
		AddressFamily:    fam,
		TransportAddress: traddr,
		ServiceID:        trsvcid,
	}
	if err := p.Validate(); err != nil {
		return record.Port{}, err
	}
	return p, nil
}
