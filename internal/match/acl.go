package match

import (
	"net"

	"github.com/coreproxy/coreproxy/internal/model"
)

// ACLMatch implements acl_match(acl, &peer_sa) -> bool (spec.md §4.1).
// Unknown address families never error, they simply fail to match.
func ACLMatch(acl *model.ACL, peer net.IP) bool {
	return acl.Match(peer)
}
