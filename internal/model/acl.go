package model

import "net"

// ACLEntry is a single (family, address, mask) triple making up an ACL.
type ACLEntry struct {
	IPv6    bool
	Address net.IP
	Mask    net.IPMask
}

// ACL is an optionally named list of CIDR triples, tested against a peer address.
type ACL struct {
	Name    string
	Entries []ACLEntry
}

// NewACLEntry builds an ACLEntry from a CIDR string such as "10.0.0.0/8" or
// "::1/128". A bare address (no mask) is treated as a /32 or /128.
func NewACLEntry(cidr string) (ACLEntry, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		// allow bare IP without prefix
		bare := net.ParseIP(cidr)
		if bare == nil {
			return ACLEntry{}, err
		}
		if v4 := bare.To4(); v4 != nil {
			return ACLEntry{Address: v4, Mask: net.CIDRMask(32, 32)}, nil
		}
		return ACLEntry{IPv6: true, Address: bare.To16(), Mask: net.CIDRMask(128, 128)}, nil
	}
	if v4 := ip.To4(); v4 != nil {
		return ACLEntry{Address: v4, Mask: ipnet.Mask}, nil
	}
	return ACLEntry{IPv6: true, Address: ip.To16(), Mask: ipnet.Mask}, nil
}

// Match reports whether peer matches any entry in the ACL. Unknown address
// families never error, they simply fail to match (spec.md §4.1).
func (a *ACL) Match(peer net.IP) bool {
	if a == nil {
		return false
	}
	v4 := peer.To4()
	for _, e := range a.Entries {
		if e.IPv6 {
			p := peer.To16()
			if p == nil || v4 != nil {
				continue
			}
			if maskedEqual(p, e.Address, e.Mask) {
				return true
			}
			continue
		}
		if v4 == nil {
			continue
		}
		if maskedEqual(v4, e.Address, e.Mask) {
			return true
		}
	}
	return false
}

func maskedEqual(peer, addr net.IP, mask net.IPMask) bool {
	if len(peer) != len(mask) || len(addr) != len(mask) {
		return false
	}
	for i := range mask {
		if peer[i]&mask[i] != addr[i]&mask[i] {
			return false
		}
	}
	return true
}
