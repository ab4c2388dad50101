package container

import (
	"testing"
	"time"

	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
)

func testCaps() Capabilities {
	return Capabilities{HostFQDN: "host1.example.com.", BaseDomain: "example.com."}
}

func TestDeriveRecordsDisabledWithoutLabel(t *testing.T) {
	meta := Metadata{ID: "c1", Name: "c1", Created: time.Now(), IPv4: "10.0.0.1"}
	c := New(meta, testCaps())
	if len(c.DNSRecords()) != 0 {
		t.Fatalf("expected no records without ddnssd.enable label, got %v", c.DNSRecords())
	}
}

func TestDeriveRecordsProducesFourRecordsLikeScenarioS1(t *testing.T) {
	meta := Metadata{
		ID:      "c1",
		Name:    "/c1",
		Created: time.Now(),
		IPv4:    "10.0.0.1",
		Labels: map[string]string{
			"ddnssd.enable":  "true",
			"ddnssd.service": "http",
			"ddnssd.port":    "80",
		},
	}
	c := New(meta, testCaps())
	records := c.DNSRecords()

	var hasA, hasSRV, hasPTR, hasTXT bool
	for _, rr := range records {
		switch rr.Type() {
		case dnsrecord.A:
			hasA = true
			if rr.Value() != "10.0.0.1" {
				t.Errorf("A value = %q", rr.Value())
			}
		case dnsrecord.SRV:
			hasSRV = true
		case dnsrecord.PTR:
			hasPTR = true
		case dnsrecord.TXT:
			hasTXT = true
		}
	}
	if !hasA || !hasSRV || !hasPTR || !hasTXT {
		t.Fatalf("expected A, SRV, PTR, TXT records, got %v", records)
	}
}

func TestRecordsAreStableAcrossCalls(t *testing.T) {
	meta := Metadata{
		ID: "c1", Name: "c1", Created: time.Now(), IPv4: "10.0.0.1",
		Labels: map[string]string{"ddnssd.enable": "true", "ddnssd.service": "http", "ddnssd.port": "80"},
	}
	c := New(meta, testCaps())
	first := c.DNSRecords()
	second := c.DNSRecords()
	if len(first) != len(second) {
		t.Fatalf("record set changed between calls")
	}
	for i := range first {
		if !first[i].Equal(second[i]) {
			t.Fatalf("record set order/content changed between calls")
		}
	}
}

func TestDesiredUnionsContainersAndHostRecord(t *testing.T) {
	caps := testCaps()
	c1 := New(Metadata{ID: "c1", Name: "c1", IPv4: "10.0.0.1", Labels: map[string]string{
		"ddnssd.enable": "true", "ddnssd.service": "http", "ddnssd.port": "80",
	}}, caps)
	c2 := New(Metadata{ID: "c2", Name: "c2", IPv4: "10.0.0.2", Labels: map[string]string{
		"ddnssd.enable": "true", "ddnssd.service": "http", "ddnssd.port": "81",
	}}, caps)
	host := dnsrecord.NewA("host1.example.com.", 60, "10.0.0.9")

	desired := Desired([]*Container{c1, c2}, &host)

	want := len(c1.DNSRecords()) + len(c2.DNSRecords()) + 1
	if len(desired) != want {
		t.Fatalf("Desired() returned %d records, want %d", len(desired), want)
	}
}
