package sqldns

import (
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/auto-dns/ddns-sd/internal/backend"
	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestFromPartsRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rr   dnsrecord.DNSRecord
	}{
		{"A", dnsrecord.NewA("c1.example.com.", 60, "10.0.0.1")},
		{"AAAA", dnsrecord.NewAAAA("c1.example.com.", 60, "::1")},
		{"PTR", dnsrecord.NewPTR("_http._tcp.example.com.", 60, "c1._http._tcp.example.com")},
		{"CNAME", dnsrecord.NewCNAME("alias.example.com.", 60, "c1.example.com")},
		{"TXT", dnsrecord.NewTXT("c1._http._tcp.example.com.", 60, []string{"a=1", "b=2"})},
		{"SRV", dnsrecord.NewSRV("_http._tcp.example.com.", 60, 0, 0, 8080, "c1.example.com")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fromParts(tt.rr.Name(), tt.rr.Type(), tt.rr.TTL(), tt.rr.Value())
			require.NoError(t, err)
			require.True(t, tt.rr.Equal(got), "got %v, want %v", got, tt.rr)
		})
	}
}

func TestSplitTXTEmptySentinel(t *testing.T) {
	require.Equal(t, []string{""}, splitTXT(`""`))
}

func TestSplitTXTPreservesOrder(t *testing.T) {
	got := splitTXT(`"a=1" "b=2"`)
	require.Equal(t, []string{"a=1", "b=2"}, got)
}

func TestServiceNameFromInstance(t *testing.T) {
	require.Equal(t, "_http._tcp.example.com.", serviceNameFromInstance("c1._http._tcp.example.com."))
}

func TestClassifyWrapsConnDoneAsTransient(t *testing.T) {
	err := classify(sql.ErrConnDone)
	require.True(t, errors.Is(err, backend.ErrTransient))
}

func TestClassifyPassesThroughNil(t *testing.T) {
	require.NoError(t, classify(nil))
}

// TestBackendAgainstLivePostgres exercises the full publish/suppress
// contract against a real schema. It needs SQLDNS_TEST_DSN pointing at
// a Postgres instance with the domains/records tables; it is skipped
// otherwise, matching the corpus's testing.Short()-gated integration
// tests.
func TestBackendAgainstLivePostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	dsn := os.Getenv("SQLDNS_TEST_DSN")
	if dsn == "" {
		t.Skip("SQLDNS_TEST_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	b := New(db, zerolog.Nop())

	rr := dnsrecord.NewA("c1.example.com.", 60, "10.0.0.1")
	require.NoError(t, b.PublishRecord(t.Context(), rr))
	require.NoError(t, b.PublishRecord(t.Context(), rr))

	records, err := b.DNSRecords(t.Context())
	require.NoError(t, err)
	require.Contains(t, records, rr)

	require.NoError(t, b.SuppressRecord(t.Context(), rr))
	require.NoError(t, b.SuppressRecord(t.Context(), rr))
}
