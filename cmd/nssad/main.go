// nssad: ledger node for the NSSA protocol.
//
// This is the main entry point for nssad. It opens the persistent
// account store and nullifier set, registers the built-in programs and
// reports ledger state. Transaction ingress (RPC, block assembly,
// consensus) is handled by external components; nssad exposes the
// deterministic state transition core they drive.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/nssa-protocol/go-nssa/internal/types"
	"github.com/nssa-protocol/go-nssa/pkg/node"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	dataDir        = flag.String("data-dir", "/var/lib/nssa", "Data directory for the account store and nullifier set")
	inMemory       = flag.Bool("in-memory", false, "Run all storage in memory (testing)")
	noSync         = flag.Bool("no-sync", false, "Disable synchronous writes (faster, risks loss on crash)")
	exemptPrograms = flag.String("mint-exempt", "", "Comma-separated base58 program ids exempt from balance conservation")
	exportPath     = flag.String("export-snapshot", "", "Export a snapshot to the given path and exit")
	importPath     = flag.String("import-snapshot", "", "Import a snapshot from the given path before reporting state")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("nssad %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("Starting nssad %s", Version)

	exempt, err := parseExempt(*exemptPrograms)
	if err != nil {
		log.Fatalf("Invalid -mint-exempt: %v", err)
	}

	cfg := node.DefaultConfig(*dataDir)
	cfg.InMemory = *inMemory
	cfg.SyncWrites = !*noSync
	cfg.ConservationExempt = exempt

	n, err := node.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open node: %v", err)
	}
	defer n.Close()

	for _, id := range n.Registry().IDs() {
		log.Printf("Registered program %s", id.String())
	}

	if *importPath != "" {
		digest, err := n.LoadSnapshot(*importPath)
		if err != nil {
			log.Fatalf("Failed to import snapshot: %v", err)
		}
		log.Printf("Imported snapshot %s (digest %s)", *importPath, digest.String())
	}

	count, err := n.AccountsCount()
	if err != nil {
		log.Fatalf("Failed to count accounts: %v", err)
	}
	digest, err := n.StateDigest()
	if err != nil {
		log.Fatalf("Failed to compute state digest: %v", err)
	}
	log.Printf("Ledger holds %d accounts, state digest %s", count, digest.String())

	if *exportPath != "" {
		if err := n.ExportSnapshot(*exportPath); err != nil {
			log.Fatalf("Failed to export snapshot: %v", err)
		}
		log.Printf("Exported snapshot to %s", *exportPath)
	}
}

// parseExempt parses a comma-separated list of base58 program ids.
func parseExempt(s string) ([]types.ProgramID, error) {
	if s == "" {
		return nil, nil
	}
	var ids []types.ProgramID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := types.ProgramIDFromBase58(part)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
