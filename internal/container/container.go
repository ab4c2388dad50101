// Package container holds the per-container state the event loop tracks
// and the rules for deriving a container's desired DNS record set from
// its runtime metadata and labels.
package container

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
)

// Metadata is the runtime-provided snapshot needed to derive records.
// It is supplied by the runtime client (internal/runtime) and is
// otherwise opaque to the engine.
type Metadata struct {
	ID      string
	Name    string
	Created time.Time
	IPv4    string
	IPv6    string
	Labels  map[string]string
}

// Capabilities is the narrow set of host context a Container needs to
// derive records, replacing a back-reference to the engine/system
// (see DESIGN.md, "cyclic back-reference").
type Capabilities struct {
	HostFQDN   string
	BaseDomain string
}

// LabelPrefix is the namespace record-derivation labels live under.
const LabelPrefix = "ddnssd"

// Container is a mutable entity keyed by container-runtime ID. It is
// written only by the engine's single dispatch goroutine.
type Container struct {
	ID       string
	Metadata Metadata
	Stopped  bool
	Crashed  bool

	caps    Capabilities
	records []dnsrecord.DNSRecord
	derived bool
}

// New constructs a Container and derives its record set once; the
// record set is stable for the container's lifetime.
func New(meta Metadata, caps Capabilities) *Container {
	c := &Container{ID: meta.ID, Metadata: meta, caps: caps}
	c.records = deriveRecords(meta, caps)
	c.derived = true
	return c
}

// DNSRecords returns the container's derived, ordered record set.
func (c *Container) DNSRecords() []dnsrecord.DNSRecord {
	if !c.derived {
		c.records = deriveRecords(c.Metadata, c.caps)
		c.derived = true
	}
	return c.records
}

// PublishRecords calls backend.PublishRecord for each of the
// container's derived records. Publishing an already-present record
// is a backend-level no-op, not an error.
func (c *Container) PublishRecords(publish func(dnsrecord.DNSRecord) error) error {
	for _, rr := range c.DNSRecords() {
		if err := publish(rr); err != nil {
			return err
		}
	}
	return nil
}

// SuppressRecords calls backend.SuppressRecord for each of the
// container's derived records.
func (c *Container) SuppressRecords(suppress func(dnsrecord.DNSRecord) error) error {
	for _, rr := range c.DNSRecords() {
		if err := suppress(rr); err != nil {
			return err
		}
	}
	return nil
}

// deriveRecords implements the DNS-SD record-derivation rules: a
// container opts in with "ddnssd.enable=true" and names the service it
// offers via "ddnssd.service"/"ddnssd.port" (optionally
// "ddnssd.proto", default "tcp"). When present, it produces the A/AAAA
// address record, the SRV instance record, the PTR enumeration record,
// and the instance TXT record that RFC 6763 browsing expects.
func deriveRecords(meta Metadata, caps Capabilities) []dnsrecord.DNSRecord {
	labels := meta.Labels
	if strings.ToLower(labels[LabelPrefix+".enable"]) != "true" {
		return nil
	}
	service := labels[LabelPrefix+".service"]
	if service == "" {
		return nil
	}
	proto := strings.ToLower(labels[LabelPrefix+".proto"])
	if proto == "" {
		proto = "tcp"
	}
	portStr := labels[LabelPrefix+".port"]
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil
	}

	instanceName := sanitizeInstance(meta.Name)
	base := strings.TrimSuffix(caps.BaseDomain, ".") + "."
	instanceHost := fmt.Sprintf("%s.%s", instanceName, strings.TrimSuffix(caps.HostFQDN, "."))
	serviceName := fmt.Sprintf("_%s._%s.%s", service, proto, base)
	instanceSRVName := fmt.Sprintf("%s.%s", instanceName, serviceName)

	const ttl uint32 = 60

	var records []dnsrecord.DNSRecord
	if meta.IPv4 != "" {
		records = append(records, dnsrecord.NewA(instanceHost+".", ttl, meta.IPv4))
	}
	if meta.IPv6 != "" {
		records = append(records, dnsrecord.NewAAAA(instanceHost+".", ttl, meta.IPv6))
	}
	records = append(records,
		dnsrecord.NewSRV(instanceSRVName, ttl, 0, 0, uint16(port), instanceHost+"."),
		dnsrecord.NewPTR(serviceName, ttl, instanceSRVName),
		dnsrecord.NewTXT(instanceSRVName, ttl, txtPairs(labels)),
	)
	return records
}

// sanitizeInstance turns a runtime container name (which may carry a
// leading slash) into a DNS label.
func sanitizeInstance(name string) string {
	name = strings.TrimPrefix(name, "/")
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "_", "-")
	return name
}

// txtPairs collects "ddnssd.txt.<key>=<value>" labels into ordered
// "key=value" TXT attribute pairs.
func txtPairs(labels map[string]string) []string {
	prefix := LabelPrefix + ".txt."
	keys := make([]string, 0)
	for k := range labels {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return []string{""}
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, strings.TrimPrefix(k, prefix)+"="+labels[k])
	}
	return pairs
}
