// Command virtfleet is the operator CLI for the virtfleet API
package main

import (
	"fmt"
	"os"

	"github.com/virtfleet/virtfleet/cmd/cli/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
