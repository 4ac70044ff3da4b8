package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/uvalib/dropoff-relay-service/internal/relay"
)

func main() {

	_ = godotenv.Load()

	app := &cli.App{
		Name:  "dropoff-relay-util",
		Usage: "Operator tooling for the drop-off relay",
		Commands: []*cli.Command{
			lintCommand(),
			lifecycleCommand(),
			uploadCommand(),
			replayCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

// flags shared by the commands that need a routing table
func routesFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "routes",
			Usage:   "Routing table as a JSON blob",
			EnvVars: []string{"DROPOFF_ROUTES"},
		},
		&cli.StringFlag{
			Name:    "routes-file",
			Usage:   "File holding the routing table JSON",
			EnvVars: []string{"DROPOFF_ROUTES_FILE"},
		},
	}
}

// loadRoutes parses the routing table named by the shared flags.
func loadRoutes(c *cli.Context) (*relay.RouteTable, error) {

	blob := []byte(c.String("routes"))
	if name := c.String("routes-file"); len(name) != 0 {
		var err error
		blob, err = os.ReadFile(name)
		if err != nil {
			return nil, err
		}
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("provide --routes or --routes-file")
	}

	return relay.ParseRouteTable(blob)
}

//
// end of file
//
