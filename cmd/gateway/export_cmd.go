package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"

	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/audit"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/config"
)

// runExportCmd generates an evidence pack for one tenant/manifest audit
// chain and writes it to --out, optionally archiving a copy to the
// configured durable-storage backend (UAPK_AUDIT_ARCHIVE_BACKEND).
//
// Exit codes:
//
//	0 = export written
//	2 = runtime error
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var tenant, manifestID, out string
	cmd.StringVar(&tenant, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&manifestID, "manifest", "", "Manifest ID (REQUIRED)")
	cmd.StringVar(&out, "out", "", "Output path for the zip evidence pack (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenant == "" || manifestID == "" || out == "" {
		fmt.Fprintln(stderr, "Error: --tenant, --manifest, and --out are required")
		return 2
	}

	cfg := config.Load()
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: connect to database: %v\n", err)
		return 2
	}
	defer db.Close()

	ctx := context.Background()
	exporter := audit.NewExporter(audit.NewPostgresStore(db))
	data, checksum, err := exporter.GeneratePack(ctx, audit.ExportRequest{TenantID: tenant, ManifestID: manifestID})
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate pack: %v\n", err)
		return 2
	}

	if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Fprintf(stderr, "Error: write pack: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "wrote %s (checksum %s)\n", out, checksum)

	if cfg.AuditArchiveBackend != "" && cfg.AuditArchiveBackend != "none" {
		archiver, err := audit.SelectArchiver(ctx, cfg.AuditArchiveBackend, cfg.AuditArchiveBucket)
		if err != nil {
			fmt.Fprintf(stderr, "Warning: archiver unavailable: %v\n", err)
			return 0
		}
		loc, err := archiver.Archive(ctx, tenant, manifestID, checksum, data)
		if err != nil {
			fmt.Fprintf(stderr, "Warning: archive upload failed: %v\n", err)
			return 0
		}
		fmt.Fprintf(stdout, "archived to %s\n", loc)
	}

	return 0
}
