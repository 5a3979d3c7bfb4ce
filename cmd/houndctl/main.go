// Command houndctl is the Tracehound operator CLI. Its one command,
// verify, replays and verifies an audit chain file; it does not report
// quarantine or pool occupancy. It does not run the daemon; it reads
// on-disk state directly, the way an offline forensic tool would.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tracehound/tracehound/internal/audit"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: houndctl <command> [flags]\n\ncommands:\n  verify -chain <path>   replay and verify an audit chain file\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "verify":
		runVerify(os.Args[2:])
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	chainPath := fs.String("chain", "", "path to the audit chain JSONL file")
	fs.Parse(args)

	if *chainPath == "" {
		fmt.Fprintln(os.Stderr, "houndctl verify: -chain is required")
		os.Exit(2)
	}

	chain, err := audit.OpenFileChain(*chainPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "houndctl verify: failed to open chain: %v\n", err)
		os.Exit(1)
	}
	defer chain.Close()

	entries, verr := chain.Verify()
	if verr != nil {
		fmt.Fprintf(os.Stderr, "houndctl verify: chain is invalid: %v\n", verr)
		os.Exit(1)
	}

	fmt.Printf("chain valid: %d entries, tail hash %s\n", len(entries), chain.LastHash())
}
