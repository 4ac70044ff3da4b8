package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func lintCommand() *cli.Command {
	return &cli.Command{
		Name:   "lint",
		Usage:  "Validate a routing table and report shadowed routes",
		Flags:  routesFlags(),
		Action: runLint,
	}
}

func runLint(c *cli.Context) error {

	table, err := loadRoutes(c)
	if err != nil {
		return err
	}

	for _, route := range table.Routes() {
		fmt.Printf("%-40s lifetime %3dd  validate %-5t  -> %s\n",
			route.Path+"/", route.ObjectLifetimeDays, route.ValidateArrivals, route.ConsumerID)
	}

	shadows := table.Shadowed()
	for _, shadow := range shadows {
		fmt.Printf("WARNING: route [%s] is shadowed by [%s] and can never match\n", shadow.Route, shadow.Winner)
	}

	fmt.Printf("%d route(s), %d shadowed\n", len(table.Routes()), len(shadows))
	return nil
}

//
// end of file
//
