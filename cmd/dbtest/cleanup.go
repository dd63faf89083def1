package main

import (
	"context"
	"fmt"

	"github.com/maruel/subcommands"

	"github.com/LerianStudio/lib-dbtest/commons/dbtest"
)

var cmdCleanup = &subcommands.Command{
	UsageLine: "cleanup [-dry-run]",
	ShortDesc: "drops every recorded test database",
	LongDesc: "Drops every database of the control table, including the ones preserved by failed tests. " +
		"Do not run it while tests are running against the same server.",
	CommandRun: func() subcommands.CommandRun {
		c := &cleanupRun{}
		c.registerBaseFlags()
		c.Flags.BoolVar(&c.dryRun, "dry-run", false, "Only print what would be dropped.")

		return c
	},
}

type cleanupRun struct {
	commonFlags

	dryRun bool
}

func (c *cleanupRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	return c.run(a, args, func(ctx context.Context, m *dbtest.Manager) error {
		if c.dryRun {
			records, err := m.List(ctx)
			if err != nil {
				return err
			}

			for _, r := range records {
				fmt.Fprintf(a.GetOut(), "would drop %s (%s)\n", r.Name, stateOf(r))
			}

			return nil
		}

		n, err := m.CleanupAll(ctx)
		fmt.Fprintf(a.GetOut(), "dropped %d database(s)\n", n)

		return err
	})
}
