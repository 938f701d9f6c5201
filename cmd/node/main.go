// go-texmesh runs a peer of the collaborative LaTeX editing network.
package main

import (
	"os"

	"github.com/texmesh/go-texmesh/node"
)

var version string

func main() { // run the app
	if version != "" {
		node.Version = version
	}
	if err := node.GetCommand().Execute(); err != nil {
		// the error was already printed by cobra
		os.Exit(1)
	}
}
