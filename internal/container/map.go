package container

import "github.com/auto-dns/ddns-sd/internal/dnsrecord"

// Map is the single-writer container-ID → Container table owned by the
// event loop. It carries no internal locking: the engine's
// single-consumer dispatch loop is the only writer, and the reconciler
// only reads it between dispatches.
type Map struct {
	byID map[string]*Container
}

func NewMap() *Map {
	return &Map{byID: make(map[string]*Container)}
}

func (m *Map) Get(id string) (*Container, bool) {
	c, ok := m.byID[id]
	return c, ok
}

func (m *Map) Set(c *Container) {
	m.byID[c.ID] = c
}

func (m *Map) Delete(id string) {
	delete(m.byID, id)
}

func (m *Map) Len() int { return len(m.byID) }

// All returns every tracked container. Iteration order is unspecified.
func (m *Map) All() []*Container {
	out := make([]*Container, 0, len(m.byID))
	for _, c := range m.byID {
		out = append(out, c)
	}
	return out
}

// Desired returns the union of every tracked container's derived
// records plus the host record when configured, de-duplicated per the
// DNSRecord equality rule.
func Desired(containers []*Container, host *dnsrecord.DNSRecord) []dnsrecord.DNSRecord {
	var all []dnsrecord.DNSRecord
	for _, c := range containers {
		all = append(all, c.DNSRecords()...)
	}
	if host != nil {
		all = append(all, *host)
	}
	return dnsrecord.Dedup(all)
}
