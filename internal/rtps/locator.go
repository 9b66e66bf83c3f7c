package rtps

import (
	"net"
	"sort"
	"strings"
	"sync"
)

// RemoteLocator is one remote peer's transport address plus the inline-QoS
// requirement and optional NAT/relay overlays spec.md §3 describes.
type RemoteLocator struct {
	Addr              *net.UDPAddr
	RequiresInlineQoS bool

	// Overlay, when non-nil and different from Addr, supersedes Addr for
	// sends (NAT traversal). Relay is a last-resort address used only when
	// a relay is configured and nothing else has worked.
	Overlay *net.UDPAddr
	Relay   *net.UDPAddr
}

// Effective returns the address a send should actually target: the
// overlay if present and distinct from the direct address, else the
// direct address.
func (l RemoteLocator) Effective() *net.UDPAddr {
	if l.Overlay != nil && l.Overlay.String() != addrString(l.Addr) {
		return l.Overlay
	}
	return l.Addr
}

func addrString(a *net.UDPAddr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// LocatorTable holds one RemoteLocator per remote Guid, mirroring
// spec.md §3's `locators: Guid -> {addr, requires_inline_qos}` mapping.
type LocatorTable struct {
	mu      sync.RWMutex
	entries map[Guid]RemoteLocator
}

// NewLocatorTable constructs an empty table.
func NewLocatorTable() *LocatorTable {
	return &LocatorTable{entries: make(map[Guid]RemoteLocator)}
}

// Set records or replaces the locator for guid.
func (t *LocatorTable) Set(guid Guid, loc RemoteLocator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[guid] = loc
}

// Get returns the locator for guid, if any.
func (t *LocatorTable) Get(guid Guid) (RemoteLocator, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	loc, ok := t.entries[guid]
	return loc, ok
}

// Remove deletes the locator entry for guid.
func (t *LocatorTable) Remove(guid Guid) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, guid)
}

// Addresses resolves guids to their effective send addresses, skipping any
// guid with no known locator, and de-duplicating by address string.
func (t *LocatorTable) Addresses(guids ...Guid) []*net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{}, len(guids))
	out := make([]*net.UDPAddr, 0, len(guids))
	for _, g := range guids {
		loc, ok := t.entries[g]
		if !ok {
			continue
		}
		addr := loc.Effective()
		if addr == nil {
			continue
		}
		key := addr.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return out
}

// AddrSetKey returns a deterministic, order-independent key for a set of
// addresses, used by the bundler to group meta-submessages that resolve to
// the same destination address set regardless of the order they were
// discovered in.
func AddrSetKey(addrs []*net.UDPAddr) string {
	if len(addrs) == 0 {
		return ""
	}
	strs := make([]string, len(addrs))
	for i, a := range addrs {
		strs[i] = a.String()
	}
	sort.Strings(strs)
	return strings.Join(strs, "|")
}
