package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"

	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/uapk-gateway/pkg/audit"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/config"
	"github.com/Mindburn-Labs/uapk-gateway/pkg/signing"
)

// runVerifyCmd walks one tenant/manifest audit chain and checks hash
// linkage and Ed25519 signatures on every record.
//
// Exit codes:
//
//	0 = chain verifies clean
//	1 = chain has one or more broken links
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var tenant, manifestID string
	cmd.StringVar(&tenant, "tenant", "", "Tenant ID (REQUIRED)")
	cmd.StringVar(&manifestID, "manifest", "", "Manifest ID (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenant == "" || manifestID == "" {
		fmt.Fprintln(stderr, "Error: --tenant and --manifest are required")
		return 2
	}

	cfg := config.Load()
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: connect to database: %v\n", err)
		return 2
	}
	defer db.Close()

	signer, err := signing.LoadGatewaySigner()
	if err != nil {
		fmt.Fprintf(stderr, "Error: load signing key: %v\n", err)
		return 2
	}

	store := audit.NewPostgresStore(db)
	chain, err := store.Chain(context.Background(), tenant, manifestID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load chain: %v\n", err)
		return 2
	}

	if err := audit.VerifyChain(chain, signer.PublicKey()); err != nil {
		fmt.Fprintf(stdout, "FAILED: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "OK: %d records verified\n", len(chain))
	return 0
}
