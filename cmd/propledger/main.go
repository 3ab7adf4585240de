// Command propledger reconciles bank transactions against rent payments.
//
// Usage:
//
//	propledger scope company acme "Acme Rentals"
//	propledger import transactions feed.csv --company acme --connection main
//	propledger run --company acme --dry-run
//	propledger review --company acme
//	propledger serve
package main

import (
	"os"

	"github.com/propledger/propledger/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
