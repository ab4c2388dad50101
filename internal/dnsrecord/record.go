// Package dnsrecord defines the DNS resource-record value type shared by
// every backend and the reconciler.
package dnsrecord

import (
	"fmt"
	"strings"
)

// Type identifies one of the record kinds ddns-sd knows how to derive,
// publish, and suppress.
type Type string

const (
	A     Type = "A"
	AAAA  Type = "AAAA"
	SRV   Type = "SRV"
	PTR   Type = "PTR"
	TXT   Type = "TXT"
	CNAME Type = "CNAME"
)

// Data is the type-specific payload of a DNSRecord. DNSRecord equality
// compares the rendered wire text (see Key), not the Data values.
type Data interface {
	// wire renders the canonical wire-text form used as the record's
	// identity content.
	wire() string
}

type AData struct{ Addr string }

func (d AData) wire() string { return d.Addr }

type AAAAData struct{ Addr string }

func (d AAAAData) wire() string { return d.Addr }

type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
}

func (d SRVData) wire() string {
	return fmt.Sprintf("%d %d %d %s", d.Priority, d.Weight, d.Port, dotted(d.Target))
}

type PTRData struct{ Target string }

func (d PTRData) wire() string { return dotted(d.Target) }

type CNAMEData struct{ Target string }

func (d CNAMEData) wire() string { return dotted(d.Target) }

// TXTData carries TXT attribute pairs in the order they should be
// rendered; order is significant and is part of record identity.
type TXTData struct{ Pairs []string }

func (d TXTData) wire() string {
	quoted := make([]string, len(d.Pairs))
	for i, p := range d.Pairs {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	return strings.Join(quoted, " ")
}

func dotted(target string) string {
	if strings.HasSuffix(target, ".") {
		return target
	}
	return target + "."
}

// DNSRecord is an immutable DNS resource record. Construct via the New*
// helpers so Name is always lowercased and Data matches Type.
type DNSRecord struct {
	name string
	ttl  uint32
	typ  Type
	data Data
}

func newRecord(name string, ttl uint32, typ Type, data Data) DNSRecord {
	return DNSRecord{name: strings.ToLower(name), ttl: ttl, typ: typ, data: data}
}

func NewA(name string, ttl uint32, addr string) DNSRecord {
	return newRecord(name, ttl, A, AData{Addr: addr})
}

func NewAAAA(name string, ttl uint32, addr string) DNSRecord {
	return newRecord(name, ttl, AAAA, AAAAData{Addr: addr})
}

func NewSRV(name string, ttl uint32, priority, weight, port uint16, target string) DNSRecord {
	return newRecord(name, ttl, SRV, SRVData{Priority: priority, Weight: weight, Port: port, Target: strings.ToLower(target)})
}

func NewPTR(name string, ttl uint32, target string) DNSRecord {
	return newRecord(name, ttl, PTR, PTRData{Target: strings.ToLower(target)})
}

func NewTXT(name string, ttl uint32, pairs []string) DNSRecord {
	return newRecord(name, ttl, TXT, TXTData{Pairs: pairs})
}

func NewCNAME(name string, ttl uint32, target string) DNSRecord {
	return newRecord(name, ttl, CNAME, CNAMEData{Target: strings.ToLower(target)})
}

func (r DNSRecord) Name() string { return r.name }
func (r DNSRecord) TTL() uint32  { return r.ttl }
func (r DNSRecord) Type() Type   { return r.typ }
func (r DNSRecord) Data() Data   { return r.data }

// Value is the canonical wire-text form of Data, used as identity content.
func (r DNSRecord) Value() string { return r.data.wire() }

// Key identifies a record for equality and map lookups: (name, type, value).
// TTL and casing are deliberately excluded.
func (r DNSRecord) Key() string {
	return strings.ToLower(r.name) + "|" + string(r.typ) + "|" + r.Value()
}

// Equal reports (name, type, value) tuple equality, name compared
// case-insensitively.
func (r DNSRecord) Equal(o DNSRecord) bool {
	return r.Key() == o.Key()
}

// SameNameType reports whether r and o share a (name, type) rrset key,
// the granularity at which backends group siblings (SRV, PTR).
func (r DNSRecord) SameNameType(o DNSRecord) bool {
	return r.name == o.name && r.typ == o.typ
}

func (r DNSRecord) String() string {
	return fmt.Sprintf("%s %d IN %s %s", r.name, r.ttl, r.typ, r.Value())
}

// Owns reports whether rr is owned by this daemon per the ownership
// rule: an A/AAAA whose name, or an SRV whose target, ends in
// hostnameSuffix. PTR, TXT, CNAME are never owned; they are shared.
func Owns(rr DNSRecord, hostnameSuffix string) bool {
	suffix := strings.ToLower(hostnameSuffix)
	switch rr.typ {
	case A, AAAA:
		return strings.HasSuffix(rr.name, suffix)
	case SRV:
		srv, ok := rr.data.(SRVData)
		return ok && strings.HasSuffix(dotted(srv.Target), suffix)
	default:
		return false
	}
}

// IsShared reports whether rr is of a type that this daemon may create
// but never claims deletion rights over.
func IsShared(rr DNSRecord) bool {
	switch rr.typ {
	case PTR, TXT, CNAME:
		return true
	default:
		return false
	}
}

// Dedup removes records that are Equal to an earlier one, preserving
// the first occurrence's order.
func Dedup(records []DNSRecord) []DNSRecord {
	seen := make(map[string]struct{}, len(records))
	out := make([]DNSRecord, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Diff computes desired - present, by Key(), preserving desired's order.
func Diff(desired, present []DNSRecord) []DNSRecord {
	have := make(map[string]struct{}, len(present))
	for _, r := range present {
		have[r.Key()] = struct{}{}
	}
	var out []DNSRecord
	for _, r := range desired {
		if _, ok := have[r.Key()]; !ok {
			out = append(out, r)
		}
	}
	return out
}
