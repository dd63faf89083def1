// Command dbtest inspects and cleans up the databases created by managed tests.
//
//	dbtest list [-preserved]
//	dbtest reap
//	dbtest cleanup [-dry-run]
//
// The target server is read from DATABASE_URL (or .env), or from a YAML file given
// with -config.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maruel/subcommands"

	"github.com/LerianStudio/lib-dbtest/commons/dbtest"
	"github.com/LerianStudio/lib-dbtest/commons/log"
	libZap "github.com/LerianStudio/lib-dbtest/commons/zap"
)

// Exit codes.
const (
	ecOK = iota
	ecArgError
	ecConnectError
	ecCommandError
)

var application = &subcommands.DefaultApplication{
	Name:  "dbtest",
	Title: "Manages the ephemeral databases created by managed tests.",
	Commands: []*subcommands.Command{
		cmdList,
		cmdReap,
		cmdCleanup,
		subcommands.CmdHelp,
	},
	EnvVars: map[string]subcommands.EnvVarDefinition{
		"DATABASE_URL": {
			ShortDesc: "Connection string of the admin database of the test server.",
		},
	},
}

func main() {
	os.Exit(subcommands.Run(application, nil))
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	subcommands.CommandRunBase

	configFile  string
	databaseURL string
}

func (c *commonFlags) registerBaseFlags() {
	c.Flags.StringVar(&c.configFile, "config", "", "YAML config file. Defaults to the environment.")
	c.Flags.StringVar(&c.databaseURL, "database-url", "", "Overrides DATABASE_URL.")
}

func (c *commonFlags) config() (*dbtest.Config, error) {
	cfg := dbtest.ConfigFromEnv()

	if c.configFile != "" {
		var err error
		if cfg, err = dbtest.LoadConfigFile(c.configFile); err != nil {
			return nil, err
		}
	}

	if c.databaseURL != "" {
		cfg.DatabaseURL = c.databaseURL
	}

	return cfg, nil
}

// manager connects to the configured server. The caller must Close it.
func (c *commonFlags) manager(ctx context.Context) (*dbtest.Manager, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}

	var logger log.Logger

	logger, err = libZap.InitializeLogger()
	if err != nil {
		logger = &log.NoneLogger{}
	}

	return dbtest.NewManager(ctx, cfg, dbtest.WithLogger(logger))
}

// run connects, calls fn and maps errors to exit codes.
func (c *commonFlags) run(a subcommands.Application, args []string, fn func(ctx context.Context, m *dbtest.Manager) error) int {
	if len(args) != 0 {
		fmt.Fprintf(a.GetErr(), "%s: unexpected arguments %q\n", a.GetName(), args)
		return ecArgError
	}

	ctx := context.Background()

	m, err := c.manager(ctx)
	if err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %v\n", a.GetName(), err)
		return ecConnectError
	}
	defer m.Close()

	if err := fn(ctx, m); err != nil {
		fmt.Fprintf(a.GetErr(), "%s: %v\n", a.GetName(), err)
		return ecCommandError
	}

	return ecOK
}

