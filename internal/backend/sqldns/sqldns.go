// Package sqldns implements the backend.Backend contract over a
// relational records/domains schema (the shape PowerDNS-style
// authoritative servers use): domains(id, name) joined to
// records(domain_id, name, type, ttl, content, change_date).
package sqldns

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/auto-dns/ddns-sd/internal/backend"
	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// querier is the narrow database/sql surface sqldns needs, satisfied by
// both *sql.DB and *sql.Tx so the primitive operations work inside or
// outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// txBeginner is the additional surface the Backend itself needs to open
// the transaction upsert wraps around.
type txBeginner interface {
	querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Backend implements backend.Backend over a *sql.DB using the
// jackc/pgx/v5/stdlib driver registered by the caller (database/sql's
// driver-registry convention; see internal/app).
type Backend struct {
	db     txBeginner
	logger zerolog.Logger
	retry  backend.RetryPolicy

	// sharedCreated tracks the (name, type) of every shared
	// (PTR/TXT/CNAME) record this backend instance has published,
	// mirroring clouddns.Backend so
	// SuppressSharedRecords knows what to tear down on graceful
	// shutdown.
	sharedCreated map[nameType]struct{}
}

type nameType struct {
	name string
	typ  dnsrecord.Type
}

func New(db *sql.DB, logger zerolog.Logger) *Backend {
	return &Backend{
		db:            db,
		logger:        logger,
		retry:         backend.DefaultRetryPolicy(),
		sharedCreated: make(map[nameType]struct{}),
	}
}

func (b *Backend) Name() string { return "sqldns" }

// filter selects rows by the non-nil fields; a nil field matches any value.
type filter struct {
	name    *string
	typ     *dnsrecord.Type
	content *string
}

func (b *Backend) lookup(ctx context.Context, q querier, f filter) ([]sqlRow, error) {
	query := "SELECT name, type, ttl, content FROM records WHERE 1=1"
	var args []any
	if f.name != nil {
		args = append(args, strings.ToLower(*f.name))
		query += fmt.Sprintf(" AND name = $%d", len(args))
	}
	if f.typ != nil {
		args = append(args, string(*f.typ))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.content != nil {
		args = append(args, *f.content)
		query += fmt.Sprintf(" AND content = $%d", len(args))
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []sqlRow
	for rows.Next() {
		var r sqlRow
		if err := rows.Scan(&r.name, &r.typ, &r.ttl, &r.content); err != nil {
			return nil, classify(err)
		}
		out = append(out, r)
	}
	return out, classify(rows.Err())
}

type sqlRow struct {
	name    string
	typ     string
	ttl     uint32
	content string
}

func (r sqlRow) toRecord() (dnsrecord.DNSRecord, error) {
	return fromParts(r.name, dnsrecord.Type(r.typ), r.ttl, r.content)
}

// DNSRecords returns every RR presently in the records table.
func (b *Backend) DNSRecords(ctx context.Context) ([]dnsrecord.DNSRecord, error) {
	rows, err := b.lookup(ctx, b.db, filter{})
	if err != nil {
		return nil, fmt.Errorf("sqldns: list records: %w", err)
	}
	out := make([]dnsrecord.DNSRecord, 0, len(rows))
	for _, r := range rows {
		rr, err := r.toRecord()
		if err != nil {
			b.logger.Warn().Err(err).Str("name", r.name).Str("type", r.typ).Msg("sqldns: skipping unparseable row")
			continue
		}
		out = append(out, rr)
	}
	return out, nil
}

// add inserts rr if no row with an identical (name, type, content)
// exists. If the base domain row itself is missing, it logs a warning
// and no-ops.
func (b *Backend) add(ctx context.Context, q querier, rr dnsrecord.DNSRecord) error {
	name := strings.ToLower(rr.Name())
	domainID, err := b.domainIDFor(ctx, q, name)
	if err != nil {
		return err
	}
	if domainID == 0 {
		b.logger.Warn().Str("name", name).Msg("sqldns: publish_record: base domain row missing, dropping")
		return nil
	}

	existing, err := b.lookup(ctx, q, filter{name: &name, typ: typPtr(rr.Type()), content: strPtr(rr.Value())})
	if err != nil {
		return fmt.Errorf("sqldns: add: lookup existing: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO records (domain_id, name, type, ttl, content, change_date) VALUES ($1, $2, $3, $4, $5, $6)`,
		domainID, name, string(rr.Type()), rr.TTL(), rr.Value(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqldns: add: insert: %w", classify(err))
	}
	return nil
}

// domainIDFor returns the id of the domains row whose name is the
// longest suffix-match of name, or 0 if none exists.
func (b *Backend) domainIDFor(ctx context.Context, q querier, name string) (int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name FROM domains`)
	if err != nil {
		return 0, fmt.Errorf("sqldns: domain lookup: %w", classify(err))
	}
	defer rows.Close()

	var bestID int64
	var bestLen int
	for rows.Next() {
		var id int64
		var dname string
		if err := rows.Scan(&id, &dname); err != nil {
			return 0, fmt.Errorf("sqldns: domain lookup: %w", classify(err))
		}
		dname = strings.ToLower(strings.TrimSuffix(dname, "."))
		if strings.HasSuffix(strings.TrimSuffix(name, "."), dname) && len(dname) > bestLen {
			bestID, bestLen = id, len(dname)
		}
	}
	return bestID, classify(rows.Err())
}

// remove deletes by the full (name, type, content) identity.
func (b *Backend) remove(ctx context.Context, q querier, rr dnsrecord.DNSRecord) error {
	return b.removeWith(ctx, q, filter{
		name:    strPtr(strings.ToLower(rr.Name())),
		typ:     typPtr(rr.Type()),
		content: strPtr(rr.Value()),
	})
}

// removeWith deletes every row matching the non-nil filters.
func (b *Backend) removeWith(ctx context.Context, q querier, f filter) error {
	query := "DELETE FROM records WHERE 1=1"
	var args []any
	if f.name != nil {
		args = append(args, *f.name)
		query += fmt.Sprintf(" AND name = $%d", len(args))
	}
	if f.typ != nil {
		args = append(args, string(*f.typ))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.content != nil {
		args = append(args, *f.content)
		query += fmt.Sprintf(" AND content = $%d", len(args))
	}
	_, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqldns: removeWith: %w", classify(err))
	}
	return nil
}

// upsert atomically replaces the rrset at (name, type) with rr:
// BEGIN; removeWith(name, type); add(rr); COMMIT. Rolls back and
// re-raises on any error.
func (b *Backend) upsert(ctx context.Context, rr dnsrecord.DNSRecord) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqldns: upsert: begin: %w", classify(err))
	}
	name := strings.ToLower(rr.Name())
	if err := b.removeWith(ctx, tx, filter{name: &name, typ: typPtr(rr.Type())}); err != nil {
		tx.Rollback()
		return err
	}
	if err := b.add(ctx, tx, rr); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqldns: upsert: commit: %w", classify(err))
	}
	return nil
}

// PublishRecord ensures rr is present: A/AAAA/CNAME/TXT upsert the
// (name, type) rrset; SRV and PTR are additive, preserving siblings
// (PTR only if the value is absent).
func (b *Backend) PublishRecord(ctx context.Context, rr dnsrecord.DNSRecord) error {
	return b.retry.Do(ctx, func(attempt int) error {
		var err error
		switch rr.Type() {
		case dnsrecord.A, dnsrecord.AAAA, dnsrecord.CNAME, dnsrecord.TXT:
			err = b.upsert(ctx, rr)
		case dnsrecord.SRV, dnsrecord.PTR:
			err = b.add(ctx, b.db, rr)
		default:
			return fmt.Errorf("sqldns: unsupported record type %s: %w", rr.Type(), backend.ErrInvariantViolation)
		}
		if err != nil {
			return err
		}
		if dnsrecord.IsShared(rr) {
			b.sharedCreated[nameType{name: strings.ToLower(rr.Name()), typ: rr.Type()}] = struct{}{}
		}
		return nil
	})
}

// SuppressRecord removes exactly rr, plus its SRV-set side effects.
func (b *Backend) SuppressRecord(ctx context.Context, rr dnsrecord.DNSRecord) error {
	return b.retry.Do(ctx, func(attempt int) error {
		if err := b.remove(ctx, b.db, rr); err != nil {
			return err
		}
		if rr.Type() != dnsrecord.SRV {
			return nil
		}
		name := strings.ToLower(rr.Name())
		remaining, err := b.lookup(ctx, b.db, filter{name: &name, typ: typPtr(dnsrecord.SRV)})
		if err != nil {
			return fmt.Errorf("sqldns: suppress_record: recheck SRV siblings: %w", err)
		}
		if len(remaining) > 0 {
			return nil
		}
		if err := b.removeWith(ctx, b.db, filter{name: &name, typ: typPtr(dnsrecord.TXT)}); err != nil {
			return err
		}
		serviceName := serviceNameFromInstance(rr.Name())
		ptrTarget := strings.ToLower(rr.Name())
		return b.removeWith(ctx, b.db, filter{name: strPtr(strings.ToLower(serviceName)), typ: typPtr(dnsrecord.PTR), content: strPtr(dotted(ptrTarget))})
	})
}

// SuppressSharedRecords deletes every row at each (name, type) where
// this backend instance published a shared (PTR/TXT/CNAME) record,
// called only on graceful total shutdown.
func (b *Backend) SuppressSharedRecords(ctx context.Context, baseDomain string) error {
	for nt := range b.sharedCreated {
		if err := b.removeWith(ctx, b.db, filter{name: &nt.name, typ: typPtr(nt.typ)}); err != nil {
			b.logger.Warn().Err(err).Str("name", nt.name).Str("type", string(nt.typ)).Msg("sqldns: failed to suppress shared record on shutdown")
			continue
		}
		delete(b.sharedCreated, nt)
	}
	return nil
}

// Rest is a no-op for sqldns: every publish/suppress call already
// commits its own transaction.
func (b *Backend) Rest(ctx context.Context) {}

func strPtr(s string) *string                 { return &s }
func typPtr(t dnsrecord.Type) *dnsrecord.Type { return &t }

func dotted(s string) string {
	if strings.HasSuffix(s, ".") {
		return s
	}
	return s + "."
}

func serviceNameFromInstance(name string) string {
	idx := strings.IndexByte(name, '.')
	if idx < 0 {
		return name
	}
	return name[idx+1:]
}

// fromParts reconstructs a DNSRecord from a stored row. content is the
// value previously produced by DNSRecord.Value(); SRV and TXT require
// parsing it back into typed fields.
func fromParts(name string, typ dnsrecord.Type, ttl uint32, content string) (dnsrecord.DNSRecord, error) {
	switch typ {
	case dnsrecord.A:
		return dnsrecord.NewA(name, ttl, content), nil
	case dnsrecord.AAAA:
		return dnsrecord.NewAAAA(name, ttl, content), nil
	case dnsrecord.PTR:
		return dnsrecord.NewPTR(name, ttl, content), nil
	case dnsrecord.CNAME:
		return dnsrecord.NewCNAME(name, ttl, content), nil
	case dnsrecord.TXT:
		return dnsrecord.NewTXT(name, ttl, splitTXT(content)), nil
	case dnsrecord.SRV:
		var prio, weight, port uint16
		var target string
		n, err := fmt.Sscanf(content, "%d %d %d %s", &prio, &weight, &port, &target)
		if err != nil || n != 4 {
			return dnsrecord.DNSRecord{}, fmt.Errorf("sqldns: malformed SRV content %q", content)
		}
		return dnsrecord.NewSRV(name, ttl, prio, weight, port, target), nil
	default:
		return dnsrecord.DNSRecord{}, fmt.Errorf("sqldns: unsupported record type %s", typ)
	}
}

// splitTXT reverses TXTData.wire()'s quoted-pair join. Content stored
// as `""` (the no-attributes sentinel) round-trips to a single empty pair.
func splitTXT(content string) []string {
	if content == "" {
		return nil
	}
	var pairs []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(content); i++ {
		c := content[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == ' ' && !inQuotes:
			pairs = append(pairs, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	pairs = append(pairs, cur.String())
	return pairs
}

// classify maps a database/sql or pgx error to the backend error
// taxonomy. Serialization failures and deadlocks are TRANSIENT (the
// whole statement/transaction retries); CONFLICT is never reachable
// here since every mutation is transactional.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("sqldns: %s: %w", pgErr.Message, backend.ErrTransient)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("sqldns: %w: %w", err, backend.ErrTransient)
	}
	return err
}
