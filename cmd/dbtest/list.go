package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/maruel/subcommands"

	"github.com/LerianStudio/lib-dbtest/commons/dbtest"
)

var cmdList = &subcommands.Command{
	UsageLine: "list [-preserved] [-owner pid@started_at@host]",
	ShortDesc: "lists the test databases recorded on the server",
	LongDesc:  "Lists every test database of the control table with its state, owner and age.",
	CommandRun: func() subcommands.CommandRun {
		c := &listRun{}
		c.registerBaseFlags()
		c.Flags.BoolVar(&c.preservedOnly, "preserved", false, "Only list databases preserved by failed tests.")
		c.Flags.StringVar(&c.owner, "owner", "", "Only list databases of this owner, as printed in the OWNER column.")

		return c
	},
}

type listRun struct {
	commonFlags

	preservedOnly bool
	owner         string
}

func (c *listRun) Run(a subcommands.Application, args []string, _ subcommands.Env) int {
	var owner *dbtest.Owner

	if c.owner != "" {
		o, err := dbtest.ParseOwner(c.owner)
		if err != nil {
			fmt.Fprintf(a.GetErr(), "%s: %v\n", a.GetName(), err)
			return ecArgError
		}

		owner = &o
	}

	return c.run(a, args, func(ctx context.Context, m *dbtest.Manager) error {
		records, err := m.List(ctx)
		if err != nil {
			return err
		}

		return writeList(a.GetOut(), filterRecords(records, c.preservedOnly, owner), time.Now())
	})
}

// filterRecords keeps the records matching every given filter. A nil owner matches all.
func filterRecords(records []dbtest.Record, preservedOnly bool, owner *dbtest.Owner) []dbtest.Record {
	kept := make([]dbtest.Record, 0, len(records))

	for _, r := range records {
		if preservedOnly && !r.Preserved {
			continue
		}

		if owner != nil && r.Owner != *owner {
			continue
		}

		kept = append(kept, r)
	}

	return kept
}

func writeList(w io.Writer, records []dbtest.Record, now time.Time) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "no test databases")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATABASE\tSTATE\tTEST\tOWNER\tCREATED")

	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Name, stateOf(r), r.TestPath, r.Owner, humanize.RelTime(r.CreatedAt, now, "ago", "from now"))
	}

	return tw.Flush()
}

func stateOf(r dbtest.Record) string {
	switch {
	case r.Preserved:
		return "preserved"
	case !r.SetupComplete:
		return "provisioning"
	case r.InUse:
		return "in use"
	default:
		return "idle"
	}
}
