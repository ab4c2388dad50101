// Command ddns-sd-diff is a diagnostic CLI: it consumes the backend
// contract to report the set difference between two configured
// backends, useful for spotting drift during a backend migration.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/auto-dns/ddns-sd/internal/app"
	"github.com/auto-dns/ddns-sd/internal/config"
	"github.com/auto-dns/ddns-sd/internal/dnsrecord"
	"github.com/auto-dns/ddns-sd/internal/logger"
)

var (
	backendA string
	backendB string
)

var rootCmd = &cobra.Command{
	Use:   "ddns-sd-diff",
	Short: "Diff the DNS record sets held by two configured backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := logger.Setup(cfg.Logging, "ddns-sd-diff")

		registry := app.NewRegistry(cfg, log)
		a, err := registry.Build(backendA, nil)
		if err != nil {
			return fmt.Errorf("ddns-sd-diff: build backend %q: %w", backendA, err)
		}
		b, err := registry.Build(backendB, nil)
		if err != nil {
			return fmt.Errorf("ddns-sd-diff: build backend %q: %w", backendB, err)
		}

		ctx := context.Background()
		recordsA, err := a.DNSRecords(ctx)
		if err != nil {
			return fmt.Errorf("ddns-sd-diff: fetch %s records: %w", backendA, err)
		}
		recordsB, err := b.DNSRecords(ctx)
		if err != nil {
			return fmt.Errorf("ddns-sd-diff: fetch %s records: %w", backendB, err)
		}

		onlyInA := dnsrecord.Diff(recordsA, recordsB)
		onlyInB := dnsrecord.Diff(recordsB, recordsA)

		fmt.Printf("only in %s (%d):\n", backendA, len(onlyInA))
		for _, rr := range onlyInA {
			fmt.Printf("  %s\n", rr)
		}
		fmt.Printf("only in %s (%d):\n", backendB, len(onlyInB))
		for _, rr := range onlyInB {
			fmt.Printf("  %s\n", rr)
		}
		if len(onlyInA) == 0 && len(onlyInB) == 0 {
			fmt.Println("backends agree")
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&backendA, "backend-a", "sqldns", "first configured backend name")
	rootCmd.Flags().StringVar(&backendB, "backend-b", "clouddns", "second configured backend name")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ddns-sd-diff: %v\n", err)
		os.Exit(1)
	}
}
