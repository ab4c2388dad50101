package dnsrecord

import "testing"

func TestEqualIgnoresTTLAndCase(t *testing.T) {
	a := NewA("Web.Example.com.", 60, "10.0.0.1")
	b := NewA("web.example.com.", 300, "10.0.0.1")
	if !a.Equal(b) {
		t.Fatalf("expected %v to equal %v", a, b)
	}
}

func TestTXTOrderIsSignificant(t *testing.T) {
	a := NewTXT("c1._http._tcp.example.com.", 60, []string{"a=1", "b=2"})
	b := NewTXT("c1._http._tcp.example.com.", 60, []string{"b=2", "a=1"})
	if a.Equal(b) {
		t.Fatalf("expected TXT pair order to affect equality")
	}
}

func TestSRVValueRendering(t *testing.T) {
	r := NewSRV("_http._tcp.example.com.", 60, 0, 0, 8080, "c1.example.com")
	want := "0 0 8080 c1.example.com."
	if r.Value() != want {
		t.Fatalf("Value() = %q, want %q", r.Value(), want)
	}
}

func TestOwns(t *testing.T) {
	tests := []struct {
		name   string
		record DNSRecord
		suffix string
		want   bool
	}{
		{"owned A", NewA("c1.host1.example.com.", 60, "10.0.0.1"), "host1.example.com.", true},
		{"foreign A", NewA("c1.otherhost.example.com.", 60, "10.0.0.1"), "host1.example.com.", false},
		{"owned SRV target", NewSRV("_http._tcp.example.com.", 60, 0, 0, 80, "c1.host1.example.com"), "host1.example.com.", true},
		{"PTR never owned", NewPTR("_http._tcp.example.com.", 60, "c1._http._tcp.example.com"), "host1.example.com.", false},
		{"TXT never owned", NewTXT("c1._http._tcp.example.com.", 60, []string{}), "host1.example.com.", false},
		{"CNAME never owned", NewCNAME("alias.example.com.", 60, "c1.host1.example.com"), "host1.example.com.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Owns(tt.record, tt.suffix); got != tt.want {
				t.Errorf("Owns() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiff(t *testing.T) {
	a := NewA("c1.example.com.", 60, "10.0.0.1")
	b := NewA("c2.example.com.", 60, "10.0.0.2")
	c := NewA("c3.example.com.", 60, "10.0.0.3")

	desired := []DNSRecord{a, b, c}
	present := []DNSRecord{a}

	diff := Diff(desired, present)
	if len(diff) != 2 {
		t.Fatalf("Diff() = %v, want 2 records", diff)
	}
}

func TestDedupPreservesFirstOccurrence(t *testing.T) {
	a := NewA("c1.example.com.", 60, "10.0.0.1")
	dup := NewA("c1.example.com.", 120, "10.0.0.1")
	out := Dedup([]DNSRecord{a, dup})
	if len(out) != 1 {
		t.Fatalf("Dedup() = %v, want 1 record", out)
	}
	if out[0].TTL() != 60 {
		t.Fatalf("Dedup() kept TTL %d, want first occurrence's 60", out[0].TTL())
	}
}
