// Command admin is the operator's toolbox: loopback HTTP commands against a
// running server (state, snapshot, token) and direct database commands for
// when the server is down (players, grant, log, inspect).
package main

import (
	"flag"
	"fmt"
	"os"

	"infinityworld.gg/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "state":
		stateCmd(os.Args[2:])
	case "snapshot":
		snapshotCmd(os.Args[2:])
	case "token":
		tokenCmd(os.Args[2:])
	case "players":
		playersCmd(os.Args[2:])
	case "grant":
		grantCmd(os.Args[2:])
	case "log":
		logCmd(os.Args[2:])
	case "inspect":
		inspectCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

commands against a running server (loopback only):
  state      print the room summary
  snapshot   trigger a snapshot export
  token      issue a bearer token for a player

commands against the database:
  players    list players and balances
  grant      credit coins to a player (audited)
  log        print a player's economy log
  inspect    print the contents of a snapshot file`)
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "inspect: exactly one snapshot path required")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("version=%d generated_at=%d\n", snap.Header.Version, snap.Header.GeneratedAt)
	fmt.Printf("players=%d parcels=%d placed_objects=%d catalog=%d\n",
		len(snap.Players), len(snap.Parcels), len(snap.Objects), len(snap.Catalog))
}
