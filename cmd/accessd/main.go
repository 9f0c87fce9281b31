package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
)

var version = "dev"

// Globals are shared by every command.
type Globals struct {
	Debug   bool
	Version string
}

type accessdCLI struct {
	Debug        bool             `help:"Force debug logging regardless of ACCESS_LOG_LEVEL."`
	Version      kong.VersionFlag `help:"Print the version and exit."`
	Serve        ServeCmd         `cmd:"" help:"Run the access control API."`
	Migrate      MigrateCmd       `cmd:"" help:"Apply pending SQLite schema migrations and exit."`
	HashPassword HashPasswordCmd  `cmd:"" help:"Print the argon2id hash of a password."`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli accessdCLI
	cmd := kong.Parse(&cli,
		kong.Name("accessd"),
		kong.Description("Time-windowed room access control service."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
