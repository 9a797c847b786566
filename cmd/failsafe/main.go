// Command failsafe runs the self-healing supervisor: periodic health checks,
// automatic recovery plans, and scheduled checkpoints.
package main

import (
	"fmt"
	"os"

	"github.com/blackwell-systems/failsafe/internal/app"
)

func main() {
	if err := app.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
