// Package backend defines the contract every DNS backend implements
// and the error taxonomy the engine and reconciler use to decide how
// to react to a failed backend call.
package backend

import (
	"context"

	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
)

// Backend is the abstract contract every concrete DNS store implements,
// covering the exact publish/suppress semantics per record type.
type Backend interface {
	// Name is a human-readable tag used in logs and metrics labels.
	Name() string

	// DNSRecords returns a snapshot of every RR currently in the zone
	// whose type is one ddns-sd understands. No ownership filtering.
	DNSRecords(ctx context.Context) ([]dnsrecord.DNSRecord, error)

	// PublishRecord ensures rr is present, per the type-specific
	// upsert-vs-additive contract each concrete backend documents.
	PublishRecord(ctx context.Context, rr dnsrecord.DNSRecord) error

	// SuppressRecord removes exactly the RR identified by
	// (name, type, value), plus any SRV/PTR/TXT cleanup side effects.
	SuppressRecord(ctx context.Context, rr dnsrecord.DNSRecord) error

	// SuppressSharedRecords deletes the PTR/TXT records this daemon
	// would have created at the zone-wide enumeration name. Called
	// only on graceful total shutdown.
	SuppressSharedRecords(ctx context.Context, baseDomain string) error

	// Rest is an advisory hook invoked when the event queue drains;
	// backends may flush pending batches or otherwise idle.
	Rest(ctx context.Context)
}

// Constructor builds a Backend from a backend-specific config section
// decoded into cfg. Used by the Registry for backend plugin discovery.
type Constructor func(cfg map[string]any) (Backend, error)

// Registry maps a configured backend-name string to its Constructor.
type Registry struct {
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

func (r *Registry) Register(name string, ctor Constructor) {
	r.constructors[name] = ctor
}

func (r *Registry) Build(name string, cfg map[string]any) (Backend, error) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, NewUnknownBackendError(name)
	}
	return ctor(cfg)
}
