// Command voicerank tracks voice-channel presence and promotes members
// through rank tiers.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/voicerank/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
