/*
main.go - Application entry point

PURPOSE:
  Starts pointsd, the points ledger service. All commands live in cli/.

EXAMPLES:
  # Run the API with a file database
  pointsd serve --db ./data/points.db

  # Run with in-memory database
  pointsd serve --db ":memory:"

  # Seed demo data, then inspect it
  pointsd seed ./seed.yaml
  pointsd summary u-alice

ENVIRONMENT:
  POINTS_DB_PATH, POINTS_HOST, POINTS_PORT, POINTS_LOG_LEVEL,
  POINTS_LOG_FORMAT, POINTS_METRICS. A .env file in the working directory
  is read first.

SEE ALSO:
  - cli/root.go: Command wiring
  - config/config.go: Configuration layers
*/
package main

import "github.com/warp/points-ledger/cli"

func main() {
	cli.Execute()
}
