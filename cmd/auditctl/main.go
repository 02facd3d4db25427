// auditctl inspects audit chains. `auditctl verify -org <id>` walks the organization's chain from sequence 0
// and exits 1 when it is broken.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"org-access-core/internal/audit"
	auditrepo "org-access-core/internal/audit/repository"
	"org-access-core/internal/config"
	"org-access-core/internal/db"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: auditctl verify -org <org-id> [-json]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 || os.Args[1] != "verify" {
		usage()
	}
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	orgID := fs.String("org", "", "Organization id; use "+audit.SentinelOrgID+" for decisions without an organization")
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	_ = fs.Parse(os.Args[2:])
	if *orgID == "" {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set")
		os.Exit(1)
	}
	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db:", err)
		os.Exit(1)
	}
	defer conn.Close()

	res, err := audit.VerifyChain(context.Background(), auditrepo.NewPostgresRepository(conn), *orgID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(1)
	}
	if *asJSON {
		_ = json.NewEncoder(os.Stdout).Encode(res)
	} else if res.Valid {
		fmt.Printf("org %s: chain valid (%d entries)\n", *orgID, res.Checked)
	} else {
		fmt.Printf("org %s: chain broken at sequence %d (%d entries checked)\n", *orgID, *res.BrokenAtSequence, res.Checked)
	}
	if !res.Valid {
		conn.Close()
		os.Exit(1)
	}
}
