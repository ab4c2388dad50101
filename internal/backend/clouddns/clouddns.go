// Package clouddns implements the backend.Backend contract over a
// change-batch style DNS API (the shape shared by Route53-like
// authoritative cloud DNS APIs): every mutation is expressed as a
// ChangeBatch of CREATE/DELETE/UPSERT operations against a
// (name, type) rrset, and same-batch conflicts are forbidden, so the
// backend always resolves to exactly one UPSERT or DELETE per rrset.
package clouddns

import (
	"context"
	"errors"
	"fmt"

	"github.com/auto-dns/ddns-sd/internal/backend"
	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
	"github.com/rs/zerolog"
)

// Action is a change-batch primitive operation.
type Action string

const (
	Create Action = "CREATE"
	Delete Action = "DELETE"
	Upsert Action = "UPSERT"
)

// RRSet is the target resource-record set for a (name, type) pair.
type RRSet struct {
	Name    string
	Type    dnsrecord.Type
	TTL     uint32
	Records []dnsrecord.DNSRecord
}

// Change is a single change-batch primitive.
type Change struct {
	Action Action
	Set    RRSet
}

// ChangeBatch groups changes the API commits atomically.
type ChangeBatch struct {
	Changes []Change
}

// API is the narrow surface clouddns needs from the concrete cloud DNS
// client, making it substitutable in tests.
type API interface {
	ListResourceRecordSets(ctx context.Context, zoneID string) ([]RRSet, error)
	ChangeResourceRecordSets(ctx context.Context, zoneID string, batch ChangeBatch) error
}

type nameTypeKey struct {
	name string
	typ  dnsrecord.Type
}

// Backend implements backend.Backend over a change-batch cloud DNS API.
type Backend struct {
	api    API
	zoneID string
	logger zerolog.Logger
	retry  backend.RetryPolicy

	// cache holds the last-known rrset per (name, type), invalidated
	// on every accepted change.
	cache map[nameTypeKey]RRSet
	// sharedCreated tracks the (name, type) of every shared
	// (PTR/TXT/CNAME) record this backend instance has published, so
	// SuppressSharedRecords knows what to tear down on graceful total
	// shutdown.
	sharedCreated map[nameTypeKey]struct{}
}

func New(api API, zoneID string, logger zerolog.Logger) *Backend {
	return &Backend{
		api:           api,
		zoneID:        zoneID,
		logger:        logger,
		retry:         backend.DefaultRetryPolicy(),
		cache:         make(map[nameTypeKey]RRSet),
		sharedCreated: make(map[nameTypeKey]struct{}),
	}
}

func (b *Backend) Name() string { return "clouddns" }

func (b *Backend) DNSRecords(ctx context.Context) ([]dnsrecord.DNSRecord, error) {
	sets, err := b.api.ListResourceRecordSets(ctx, b.zoneID)
	if err != nil {
		return nil, fmt.Errorf("clouddns: list rrsets: %w", err)
	}
	var out []dnsrecord.DNSRecord
	for _, s := range sets {
		out = append(out, s.Records...)
	}
	return out, nil
}

func key(name string, typ dnsrecord.Type) nameTypeKey { return nameTypeKey{name: name, typ: typ} }

// fetchSet returns the cached rrset for (name, type), fetching it from
// the API on first access.
func (b *Backend) fetchSet(ctx context.Context, name string, typ dnsrecord.Type) (RRSet, error) {
	k := key(name, typ)
	if s, ok := b.cache[k]; ok {
		return s, nil
	}
	sets, err := b.api.ListResourceRecordSets(ctx, b.zoneID)
	if err != nil {
		return RRSet{}, fmt.Errorf("clouddns: refresh cache: %w", err)
	}
	b.cache = make(map[nameTypeKey]RRSet, len(sets))
	for _, s := range sets {
		b.cache[key(s.Name, s.Type)] = s
	}
	return b.cache[k], nil
}

func (b *Backend) invalidate(name string, typ dnsrecord.Type) {
	delete(b.cache, key(name, typ))
}

// PublishRecord ensures rr is present, per the type-specific upsert
// contract described on the Backend interface.
func (b *Backend) PublishRecord(ctx context.Context, rr dnsrecord.DNSRecord) error {
	return b.retry.Do(ctx, func(attempt int) error {
		target, err := b.targetSetForPublish(ctx, rr)
		if err != nil {
			return err
		}
		if err := b.apply(ctx, Upsert, target); err != nil {
			return err
		}
		if dnsrecord.IsShared(rr) {
			b.sharedCreated[key(rr.Name(), rr.Type())] = struct{}{}
		}
		return nil
	})
}

func (b *Backend) targetSetForPublish(ctx context.Context, rr dnsrecord.DNSRecord) (RRSet, error) {
	switch rr.Type() {
	case dnsrecord.A, dnsrecord.AAAA, dnsrecord.CNAME, dnsrecord.TXT:
		// Upsert: the (name, type) key is replaced entirely.
		return RRSet{Name: rr.Name(), Type: rr.Type(), TTL: rr.TTL(), Records: []dnsrecord.DNSRecord{rr}}, nil
	case dnsrecord.SRV, dnsrecord.PTR:
		existing, err := b.fetchSet(ctx, rr.Name(), rr.Type())
		if err != nil {
			return RRSet{}, err
		}
		merged := dnsrecord.Dedup(append(append([]dnsrecord.DNSRecord{}, existing.Records...), rr))
		return RRSet{Name: rr.Name(), Type: rr.Type(), TTL: rr.TTL(), Records: merged}, nil
	default:
		return RRSet{}, fmt.Errorf("clouddns: unsupported record type %s: %w", rr.Type(), backend.ErrInvariantViolation)
	}
}

// SuppressRecord removes exactly rr, plus its SRV-set side effects:
// when the last SRV at a name is removed, also remove the instance TXT
// record at that name and the PTR entry in the parent service's
// enumeration record that points at rr.Name().
func (b *Backend) SuppressRecord(ctx context.Context, rr dnsrecord.DNSRecord) error {
	return b.retry.Do(ctx, func(attempt int) error {
		existing, err := b.fetchSet(ctx, rr.Name(), rr.Type())
		if err != nil {
			return err
		}
		remaining := removeByKey(existing.Records, rr)
		if err := b.applySetOrDelete(ctx, RRSet{Name: rr.Name(), Type: rr.Type(), TTL: rr.TTL(), Records: remaining}); err != nil {
			return err
		}

		if rr.Type() == dnsrecord.SRV && len(remaining) == 0 {
			if err := b.suppressInstanceTXT(ctx, rr.Name()); err != nil {
				return err
			}
			if err := b.removeFromParentPTR(ctx, serviceNameFromInstance(rr.Name()), rr.Name()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) suppressInstanceTXT(ctx context.Context, name string) error {
	existing, err := b.fetchSet(ctx, name, dnsrecord.TXT)
	if err != nil {
		return err
	}
	if len(existing.Records) == 0 {
		return nil
	}
	return b.applySetOrDelete(ctx, RRSet{Name: name, Type: dnsrecord.TXT})
}

func (b *Backend) removeFromParentPTR(ctx context.Context, serviceName, target string) error {
	existing, err := b.fetchSet(ctx, serviceName, dnsrecord.PTR)
	if err != nil {
		return err
	}
	remaining := make([]dnsrecord.DNSRecord, 0, len(existing.Records))
	for _, r := range existing.Records {
		if ptr, ok := r.Data().(dnsrecord.PTRData); ok && ptr.Target == target {
			continue
		}
		remaining = append(remaining, r)
	}
	return b.applySetOrDelete(ctx, RRSet{Name: serviceName, Type: dnsrecord.PTR, Records: remaining})
}

func (b *Backend) applySetOrDelete(ctx context.Context, set RRSet) error {
	if len(set.Records) == 0 {
		return b.apply(ctx, Delete, set)
	}
	return b.apply(ctx, Upsert, set)
}

// apply issues a single change-batch change and invalidates the cache
// entry for the affected (name, type) on success.
func (b *Backend) apply(ctx context.Context, action Action, set RRSet) error {
	err := b.api.ChangeResourceRecordSets(ctx, b.zoneID, ChangeBatch{Changes: []Change{{Action: action, Set: set}}})
	if err != nil {
		if errors.Is(err, backend.ErrConflict) {
			// The cached view is stale; drop it so a retry refetches.
			b.invalidate(set.Name, set.Type)
		}
		return fmt.Errorf("clouddns: change batch: %w", err)
	}
	b.invalidate(set.Name, set.Type)
	return nil
}

// SuppressSharedRecords deletes the whole rrset at every (name, type)
// where this backend instance published a shared (PTR/TXT/CNAME)
// record, called only on graceful total shutdown.
func (b *Backend) SuppressSharedRecords(ctx context.Context, baseDomain string) error {
	for k := range b.sharedCreated {
		if err := b.apply(ctx, Delete, RRSet{Name: k.name, Type: k.typ}); err != nil {
			b.logger.Warn().Err(err).Str("name", k.name).Str("type", string(k.typ)).Msg("clouddns: failed to suppress shared record on shutdown")
			continue
		}
		delete(b.sharedCreated, k)
	}
	return nil
}

// Rest is a no-op for clouddns: there is no pending local batch to
// flush since every publish/suppress call commits immediately.
func (b *Backend) Rest(ctx context.Context) {}

func removeByKey(records []dnsrecord.DNSRecord, target dnsrecord.DNSRecord) []dnsrecord.DNSRecord {
	out := make([]dnsrecord.DNSRecord, 0, len(records))
	for _, r := range records {
		if r.Equal(target) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// serviceNameFromInstance drops the leading instance label from an SRV
// record's name to recover the parent service enumeration name, e.g.
// "c1._http._tcp.example.com." -> "_http._tcp.example.com.".
func serviceNameFromInstance(name string) string {
	idx := indexOfFirstDot(name)
	if idx < 0 {
		return name
	}
	return name[idx+1:]
}

func indexOfFirstDot(s string) int {
	for i, c := range s {
		if c == '.' {
			return i
		}
	}
	return -1
}
