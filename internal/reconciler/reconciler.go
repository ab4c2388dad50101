// Package reconciler implements the set-difference pass that aligns a
// backend's zone state with the daemon's desired-record computation.
// Enumerating live containers from the runtime lives in internal/engine,
// since it needs the runtime client rather than a backend; Reconcile
// takes the already-rebuilt container list.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/auto-dns/ddns-sd/internal/backend"
	"github.com/auto-dns/ddns-sd/internal/container"
	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
	"github.com/auto-dns/ddns-sd/internal/metrics"
	"github.com/rs/zerolog"
)

// Reconcile runs one reconciliation pass of b against the desired set
// derived from containers and host. Deletes are
// issued before creates so a rename (same (name, type), different
// value) lands correctly. A per-record failure is logged and the pass
// continues; a FATAL error aborts the pass and is returned.
func Reconcile(ctx context.Context, b backend.Backend, containers []*container.Container, host *dnsrecord.DNSRecord, hostnameSuffix string, logger zerolog.Logger) error {
	existing, err := b.DNSRecords(ctx)
	if err != nil {
		return fmt.Errorf("reconciler: %s: fetch existing records: %w", b.Name(), err)
	}

	ourLive, sharedExisting := partition(existing, hostnameSuffix)
	desired := container.Desired(containers, host)

	toDelete := dnsrecord.Diff(ourLive, desired)
	toCreate := dnsrecord.Diff(desired, dnsrecord.Dedup(append(append([]dnsrecord.DNSRecord{}, ourLive...), sharedExisting...)))

	for _, rr := range toDelete {
		err := b.SuppressRecord(ctx, rr)
		metrics.BackendOperationsTotal.WithLabelValues(b.Name(), "suppress", metrics.Result(err)).Inc()
		if err != nil {
			if errors.Is(err, backend.ErrFatal) {
				return fmt.Errorf("reconciler: %s: suppress %s: %w", b.Name(), rr, err)
			}
			logger.Warn().Err(err).Str("backend", b.Name()).Str("record", rr.String()).Msg("reconciler: failed to suppress stale record, will retry next pass")
		}
	}
	for _, rr := range toCreate {
		err := b.PublishRecord(ctx, rr)
		metrics.BackendOperationsTotal.WithLabelValues(b.Name(), "publish", metrics.Result(err)).Inc()
		if err != nil {
			if errors.Is(err, backend.ErrFatal) {
				return fmt.Errorf("reconciler: %s: publish %s: %w", b.Name(), rr, err)
			}
			logger.Warn().Err(err).Str("backend", b.Name()).Str("record", rr.String()).Msg("reconciler: failed to publish missing record, will retry next pass")
		}
	}
	return nil
}

// partition splits existing into our_live (A/AAAA/SRV we own, and no
// others) and shared_existing (PTR/TXT/CNAME).
func partition(existing []dnsrecord.DNSRecord, hostnameSuffix string) (ourLive, sharedExisting []dnsrecord.DNSRecord) {
	for _, rr := range existing {
		switch {
		case dnsrecord.IsShared(rr):
			sharedExisting = append(sharedExisting, rr)
		case dnsrecord.Owns(rr, hostnameSuffix):
			ourLive = append(ourLive, rr)
		}
	}
	return ourLive, sharedExisting
}
