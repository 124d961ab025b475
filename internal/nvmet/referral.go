package nvmet

import (
	"errors"
	"io/fs"

	"github.com/danmuck/kdctl/internal/record"
	logs "github.com/danmuck/smplog"
)

// DefaultReferralName is the referral entry created under each port.
const DefaultReferralName = "cdc"

// SubtypeParent marks the referral as pointing at the parent CDC.
const SubtypeParent = "parent"

// Referral describes the CDC entry written back under each port.
type Referral struct {
	Name      string
	Address   string
	ServiceID string
	// Enable writes enable=1 after the address attributes.
	Enable bool
}

type attrValue struct {
	attr  string
	value string
}

func (r Referral) attrs() []attrValue {
	out := []attrValue{
		{AttrTransportAddress, r.Address},
		{AttrServiceID, r.ServiceID},
		{AttrTransportType, record.TransportTCP.String()},
		{AttrAddressFamily, record.FamilyForHost(r.Address).String()},
		{AttrSubtype, SubtypeParent},
	}
	if r.Enable {
		out = append(out, attrValue{AttrEnable, "1"})
	}
	return out
}

// ReferralResult reports what was written under one port.
type ReferralResult struct {
	PortID string
	// Existed is true when the referral entry was already present.
	Existed bool
	Written []string
	Failed  []error
	// Err is set when the entry could not be created; nothing was written.
	Err error
}

// OK reports whether every attribute was written.
func (r ReferralResult) OK() bool {
	return r.Err == nil && len(r.Failed) == 0
}

// RegisterReferrals writes ref under every distinct store port in ports.
// Records without a PortID are ignored. Failures are per port and per
// attribute; earlier writes are never rolled back.
func RegisterReferrals(store Store, ref Referral, ports []record.Port) []ReferralResult {
	name := ref.Name
	if name == "" {
		name = DefaultReferralName
	}
	seen := make(map[string]struct{}, len(ports))
	results := make([]ReferralResult, 0, len(ports))
	for _, p := range ports {
		if p.PortID == "" {
			continue
		}
		if _, ok := seen[p.PortID]; ok {
			continue
		}
		seen[p.PortID] = struct{}{}
		results = append(results, registerOne(store, name, ref, p.PortID))
	}
	return results
}

func registerOne(store Store, name string, ref Referral, port string) ReferralResult {
	res := ReferralResult{PortID: port}
	if err := store.MakeReferral(port, name); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			logs.Errorf(err, "nvmet.RegisterReferrals port=%s referral=%s create failed", port, name)
			res.Err = err
			return res
		}
		res.Existed = true
	}
	for _, av := range ref.attrs() {
		if err := store.WriteReferralAttr(port, name, av.attr, av.value); err != nil {
			logs.Warnf("nvmet.RegisterReferrals port=%s referral=%s attr=%s err=%v", port, name, av.attr, err)
			res.Failed = append(res.Failed, err)
			continue
		}
		res.Written = append(res.Written, av.attr)
	}
	logs.Infof("nvmet.RegisterReferrals port=%s referral=%s written=%d failed=%d", port, name, len(res.Written), len(res.Failed))
	return res
}
