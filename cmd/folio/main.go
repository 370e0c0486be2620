package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"
)

const version = "0.1.0"

var (
	serverURL = flag.String("server", "", "folio-server base URL; empty runs against the local database")
	logLevel  = flag.String("log-level", "", "override logging.level for this invocation")
)

func main() {
	_ = godotenv.Load(".env")

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&syncCmd{}, "prices")
	commander.Register(&statusCmd{}, "prices")
	commander.Register(&watchCmd{}, "prices")
	commander.Register(&exportCmd{}, "prices")
	commander.Register(&importCmd{}, "holdings")
	commander.Register(&summaryCmd{}, "holdings")
	commander.Register(&versionCmd{}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
