package main

import (
	"fmt"
	"os"

	"github.com/texmesh/go-texmesh/p2p"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Printf("Usage: %v <path/to/output_dir>\n", os.Args[0])
		os.Exit(1)
	}

	dir := os.Args[1]
	if _, err := p2p.EnsureIdentity(dir); err != nil {
		fmt.Printf("failed generating identity: %v\n", err)
		os.Exit(1)
	}

	id, err := p2p.IdentityInfoFromDir(dir)
	if err != nil {
		fmt.Printf("failed fetching identity from file: %v\n", err)
		os.Exit(1)
	}

	// Print ID
	fmt.Printf("%s\n", id)
}
