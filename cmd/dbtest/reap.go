package main

import (
	"context"
	"fmt"

	"github.com/maruel/subcommands"

	"github.com/LerianStudio/lib-dbtest/commons/dbtest"
)

var cmdReap = &subcommands.Command{
	UsageLine: "reap",
	ShortDesc: "drops databases orphaned by dead test processes",
	LongDesc: "Drops the databases whose owning test process is gone while they were in use or being set up. " +
		"Databases preserved by failed tests are kept.",
	CommandRun: func() subcommands.CommandRun {
		c := &reapRun{}
		c.registerBaseFlags()

		return c
	},
}

type reapRun struct {
	commonFlags
}

func (c *reapRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	return c.run(a, args, func(ctx context.Context, m *dbtest.Manager) error {
		n, err := m.ReapOrphans(ctx)
		if err != nil {
			return err
		}

		fmt.Fprintf(a.GetOut(), "reaped %d orphaned database(s)\n", n)

		return nil
	})
}
