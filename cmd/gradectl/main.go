// Command gradectl is the operator tool for grade prediction artifacts: it
// diagnoses an artifact, publishes it to the SQL or Redis store, and grades
// CSV files offline.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/godilite/grade-predictor/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const usage = `usage: gradectl <command> [flags]

commands:
  check  -model path                      inspect an artifact and run a sample prediction
  push   -model path -to sql|redis        publish an artifact to the configured store
  batch  -model path -in a.csv [-out b.csv] grade a CSV file offline
`

func main() {
	_ = godotenv.Load(".env")
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "help" {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	var cmd func(context.Context, *config.Config, *zap.Logger, []string, io.Writer) error
	switch args[0] {
	case "check":
		cmd = runCheck
	case "push":
		cmd = runPush
	case "batch":
		cmd = runBatch
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if err := cmd(ctx, cfg, logger, args[1:], stdout); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
