package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/auto-dns/ddns-sd/internal/container"
	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an in-memory backend.Backend used to exercise
// Reconcile without a real DNS store.
type fakeBackend struct {
	records   []dnsrecord.DNSRecord
	published []dnsrecord.DNSRecord
	suppressed []dnsrecord.DNSRecord
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) DNSRecords(ctx context.Context) ([]dnsrecord.DNSRecord, error) {
	return append([]dnsrecord.DNSRecord{}, f.records...), nil
}

func (f *fakeBackend) PublishRecord(ctx context.Context, rr dnsrecord.DNSRecord) error {
	f.published = append(f.published, rr)
	f.records = append(f.records, rr)
	return nil
}

func (f *fakeBackend) SuppressRecord(ctx context.Context, rr dnsrecord.DNSRecord) error {
	f.suppressed = append(f.suppressed, rr)
	out := make([]dnsrecord.DNSRecord, 0, len(f.records))
	for _, r := range f.records {
		if r.Equal(rr) {
			continue
		}
		out = append(out, r)
	}
	f.records = out
	return nil
}

func (f *fakeBackend) SuppressSharedRecords(ctx context.Context, baseDomain string) error {
	return nil
}

func (f *fakeBackend) Rest(ctx context.Context) {}

func testCaps() container.Capabilities {
	return container.Capabilities{HostFQDN: "host1.example.com.", BaseDomain: "example.com."}
}

func newTrackedContainer(id, ip, port string) *container.Container {
	return container.New(container.Metadata{
		ID: id, Name: id, Created: time.Now(), IPv4: ip,
		Labels: map[string]string{"ddnssd.enable": "true", "ddnssd.service": "http", "ddnssd.port": port},
	}, testCaps())
}

// TestReconcileDeletesDriftAndKeepsSharedPTR reproduces scenario S3:
// a stale A record owned by our host with no tracked container is
// deleted, while an unrelated PTR pointing at it is retained because
// PTR is shared and reconciliation never deletes shared records.
func TestReconcileDeletesDriftAndKeepsSharedPTR(t *testing.T) {
	stale := dnsrecord.NewA("stale.host1.example.com.", 60, "10.0.0.99")
	foreignPTR := dnsrecord.NewPTR("foo.example.com.", 60, "stale.host1.example.com")
	fb := &fakeBackend{records: []dnsrecord.DNSRecord{stale, foreignPTR}}

	err := Reconcile(context.Background(), fb, nil, nil, "host1.example.com.", zerolog.Nop())
	require.NoError(t, err)

	require.Len(t, fb.suppressed, 1)
	require.True(t, fb.suppressed[0].Equal(stale))
	require.Contains(t, fb.records, foreignPTR)
	require.NotContains(t, fb.records, stale)
}

// TestReconcileCreatesMissingDesiredRecords covers S4: two containers'
// desired records are both published when the backend starts empty.
func TestReconcileCreatesMissingDesiredRecords(t *testing.T) {
	c1 := newTrackedContainer("c1", "10.0.0.1", "80")
	c2 := newTrackedContainer("c2", "10.0.0.2", "81")
	fb := &fakeBackend{}

	err := Reconcile(context.Background(), fb, []*container.Container{c1, c2}, nil, "host1.example.com.", zerolog.Nop())
	require.NoError(t, err)

	want := len(c1.DNSRecords()) + len(c2.DNSRecords())
	require.Len(t, fb.published, want)
}

// TestReconcileDoesNotReCreateIdenticalSharedRecord covers the
// to_create subtraction of shared_existing: a PTR the backend already
// holds, identical to one our desired set would produce, is not
// re-published.
func TestReconcileDoesNotReCreateIdenticalSharedRecord(t *testing.T) {
	c1 := newTrackedContainer("c1", "10.0.0.1", "80")
	var existingPTR dnsrecord.DNSRecord
	for _, rr := range c1.DNSRecords() {
		if rr.Type() == dnsrecord.PTR {
			existingPTR = rr
		}
	}
	fb := &fakeBackend{records: []dnsrecord.DNSRecord{existingPTR}}

	err := Reconcile(context.Background(), fb, []*container.Container{c1}, nil, "host1.example.com.", zerolog.Nop())
	require.NoError(t, err)

	for _, rr := range fb.published {
		require.False(t, rr.Equal(existingPTR), "should not re-publish identical shared PTR")
	}
}

func TestReconcileIncludesHostRecord(t *testing.T) {
	host := dnsrecord.NewA("host1.example.com.", 60, "10.0.0.9")
	fb := &fakeBackend{}

	err := Reconcile(context.Background(), fb, nil, &host, "host1.example.com.", zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, fb.published, 1)
	require.True(t, fb.published[0].Equal(host))
}
