package clouddns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/auto-dns/ddns-sd/internal/backend"
	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
)

// HTTPAPI implements the API interface over a generic change-batch
// style REST zone API: list the zone's rrsets, POST a ChangeBatch of
// CREATE/DELETE/UPSERT ops. No concrete cloud-DNS SDK exists to import
// (see DESIGN.md), so this talks net/http + encoding/json directly
// against a configurable base URL rather than fabricating a vendor SDK
// dependency.
type HTTPAPI struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPAPI(baseURL, apiKey string, client *http.Client) *HTTPAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAPI{baseURL: baseURL, apiKey: apiKey, client: client}
}

type wireRecord struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	TTL   uint32 `json:"ttl"`
	Value string `json:"value"`
}

type wireRRSet struct {
	Name    string       `json:"name"`
	Type    string       `json:"type"`
	TTL     uint32       `json:"ttl"`
	Records []wireRecord `json:"records"`
}

type wireChange struct {
	Action string    `json:"action"`
	Set    wireRRSet `json:"set"`
}

type wireChangeBatch struct {
	Changes []wireChange `json:"changes"`
}

func (a *HTTPAPI) ListResourceRecordSets(ctx context.Context, zoneID string) ([]RRSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/zones/%s/rrsets", a.baseURL, zoneID), nil)
	if err != nil {
		return nil, err
	}
	a.authorize(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clouddns: list rrsets: %w: %v", backend.ErrTransient, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var wire []wireRRSet
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("clouddns: decode rrsets: %w", err)
	}
	return toRRSets(wire), nil
}

func (a *HTTPAPI) ChangeResourceRecordSets(ctx context.Context, zoneID string, batch ChangeBatch) error {
	body, err := json.Marshal(fromChangeBatch(batch))
	if err != nil {
		return fmt.Errorf("clouddns: encode change batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/zones/%s/changes", a.baseURL, zoneID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	a.authorize(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("clouddns: change batch: %w: %v", backend.ErrTransient, err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

func (a *HTTPAPI) authorize(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

// classifyStatus maps an HTTP status to the backend error taxonomy:
// 409 is a batch/rrset conflict with the cached view, 429/5xx are
// transient, 404 means the zone (base domain) itself is gone, and
// 401/403 (bad credentials) are fatal. Any other non-2xx status is
// returned as a plain error that matches none of the sentinels.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusConflict:
		return fmt.Errorf("clouddns: http %d: %w", code, backend.ErrConflict)
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("clouddns: http %d: %w", code, backend.ErrTransient)
	case code == http.StatusNotFound:
		return fmt.Errorf("clouddns: http %d: %w", code, backend.ErrInvariantViolation)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("clouddns: http %d: %w", code, backend.ErrFatal)
	default:
		return fmt.Errorf("clouddns: http %d", code)
	}
}

func toRRSets(wire []wireRRSet) []RRSet {
	out := make([]RRSet, 0, len(wire))
	for _, w := range wire {
		set := RRSet{Name: w.Name, Type: dnsrecord.Type(w.Type), TTL: w.TTL}
		for _, r := range w.Records {
			rr, err := fromWireRecord(r)
			if err != nil {
				continue
			}
			set.Records = append(set.Records, rr)
		}
		out = append(out, set)
	}
	return out
}

func fromWireRecord(r wireRecord) (dnsrecord.DNSRecord, error) {
	switch dnsrecord.Type(r.Type) {
	case dnsrecord.A:
		return dnsrecord.NewA(r.Name, r.TTL, r.Value), nil
	case dnsrecord.AAAA:
		return dnsrecord.NewAAAA(r.Name, r.TTL, r.Value), nil
	case dnsrecord.PTR:
		return dnsrecord.NewPTR(r.Name, r.TTL, r.Value), nil
	case dnsrecord.CNAME:
		return dnsrecord.NewCNAME(r.Name, r.TTL, r.Value), nil
	case dnsrecord.TXT:
		return dnsrecord.NewTXT(r.Name, r.TTL, splitTXTPairs(r.Value)), nil
	case dnsrecord.SRV:
		var prio, weight, port uint16
		var target string
		n, err := fmt.Sscanf(r.Value, "%d %d %d %s", &prio, &weight, &port, &target)
		if err != nil || n != 4 {
			return dnsrecord.DNSRecord{}, fmt.Errorf("clouddns: malformed SRV value %q", r.Value)
		}
		return dnsrecord.NewSRV(r.Name, r.TTL, prio, weight, port, target), nil
	default:
		return dnsrecord.DNSRecord{}, fmt.Errorf("clouddns: unsupported wire record type %s", r.Type)
	}
}

// splitTXTPairs reverses TXTData.wire()'s quoted-pair join, the same
// round-trip sqldns.splitTXT performs on its stored content column.
func splitTXTPairs(value string) []string {
	if value == "" {
		return nil
	}
	var pairs []string
	var cur []byte
	inQuotes := false
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == ' ' && !inQuotes:
			pairs = append(pairs, string(cur))
			cur = cur[:0]
		default:
			cur = append(cur, c)
		}
	}
	pairs = append(pairs, string(cur))
	return pairs
}

func fromChangeBatch(batch ChangeBatch) wireChangeBatch {
	out := wireChangeBatch{Changes: make([]wireChange, 0, len(batch.Changes))}
	for _, c := range batch.Changes {
		records := make([]wireRecord, 0, len(c.Set.Records))
		for _, rr := range c.Set.Records {
			records = append(records, wireRecord{Name: rr.Name(), Type: string(rr.Type()), TTL: rr.TTL(), Value: rr.Value()})
		}
		out.Changes = append(out.Changes, wireChange{
			Action: string(c.Action),
			Set:    wireRRSet{Name: c.Set.Name, Type: string(c.Set.Type), TTL: c.Set.TTL, Records: records},
		})
	}
	return out
}
