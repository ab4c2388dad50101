// Command ddns-sd-prune is a diagnostic CLI: it consumes the backend
// contract to find and optionally remove SRV records whose target has
// no matching A/AAAA record, the residue left behind when a
// container's address record was suppressed (or never published) but
// its SRV instance record survived.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/auto-dns/ddns-sd/internal/app"
	"github.com/auto-dns/ddns-sd/internal/config"
	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
	"github.com/auto-dns/ddns-sd/internal/logger"
)

var (
	backendName string
	dryRun      bool
)

var rootCmd = &cobra.Command{
	Use:   "ddns-sd-prune",
	Short: "Find and optionally remove SRV records whose target address is missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logger.Setup(cfg.Logging, "ddns-sd-prune")

		registry := app.NewRegistry(cfg, log)
		b, err := registry.Build(backendName, nil)
		if err != nil {
			return fmt.Errorf("ddns-sd-prune: build backend %q: %w", backendName, err)
		}

		ctx := context.Background()
		records, err := b.DNSRecords(ctx)
		if err != nil {
			return fmt.Errorf("ddns-sd-prune: fetch records: %w", err)
		}

		addressed := make(map[string]struct{})
		for _, rr := range records {
			if rr.Type() == dnsrecord.A || rr.Type() == dnsrecord.AAAA {
				addressed[strings.ToLower(rr.Name())] = struct{}{}
			}
		}

		var stale []dnsrecord.DNSRecord
		for _, rr := range records {
			if rr.Type() != dnsrecord.SRV {
				continue
			}
			srv, ok := rr.Data().(dnsrecord.SRVData)
			if !ok {
				continue
			}
			if _, ok := addressed[strings.ToLower(srv.Target)]; !ok {
				stale = append(stale, rr)
			}
		}

		if len(stale) == 0 {
			fmt.Println("no stale SRV records found")
			return nil
		}

		for _, rr := range stale {
			if dryRun {
				fmt.Printf("[dry-run] would suppress %s\n", rr)
				continue
			}
			if err := b.SuppressRecord(ctx, rr); err != nil {
				fmt.Fprintf(os.Stderr, "ddns-sd-prune: failed to suppress %s: %v\n", rr, err)
				continue
			}
			fmt.Printf("suppressed %s\n", rr)
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&backendName, "backend", "sqldns", "configured backend name to prune")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", true, "only report stale SRV records without suppressing them")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ddns-sd-prune: %v\n", err)
		os.Exit(1)
	}
}
