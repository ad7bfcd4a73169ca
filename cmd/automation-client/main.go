// Package main is the entrypoint for the automation client.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/morezero/automation-client/internal/client"
	"github.com/morezero/automation-client/internal/config"
	"github.com/morezero/automation-client/pkg/db"
	"github.com/morezero/automation-client/pkg/handler"
)

const usage = `Usage: automation-client [command]

Commands:
  run             (default) Register with the orchestration service and handle invocations.
  worker          Serve invocations dispatched over COMMS by a running client (needs WORKER_ID).
  describe        Print the registration payload as JSON and exit.
  migrate up      Create the invocation audit tables.
  migrate status  Report whether the audit tables exist.
  clear           Delete every recorded invocation; schema is preserved.
  help            Show this message.

Environment: AUTOMATION_NAME, AUTOMATION_VERSION, WORKSPACE_IDS, API_KEY (run), COMMS_URL (worker,
lifecycle events), DATABASE_URL (audit, migrate, clear), MIGRATION_PATH. See README for the full list.

Exit status: 1 on failure, 2 when registration is rejected, 3 when reconnect attempts are exhausted.
`

// Exit statuses.
const (
	exitFailure   = 1
	exitRejected  = 2
	exitExhausted = 3
)

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "describe":
		if err := client.Describe(os.Stdout); err != nil {
			log.Fatalf("automation-client describe: %v", err)
		}
		return
	case "worker":
		if err := client.RunWorker(); err != nil {
			log.Fatalf("automation-client worker: %v", err)
		}
		return
	case "migrate":
		sub := "up"
		if len(args) > 1 {
			sub = args[1]
		}
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("automation-client migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("automation-client migrate status: %v", err)
			}
		default:
			log.Fatalf("automation-client migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "clear":
		if err := runClear(); err != nil {
			log.Fatalf("automation-client clear: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "run", "":
		// run (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(exitFailure)
	}

	if err := client.Run(); err != nil {
		log.Printf("automation-client: %v", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch handler.ErrorCode(err) {
	case handler.CodeRegistrationRejected:
		return exitRejected
	case handler.CodeConnectionLost:
		return exitExhausted
	default:
		return exitFailure
	}
}

func runMigrateUp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrations, err := db.Migrations(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrations); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	applied, err := db.MigrationApplied(ctx, pool)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	if applied {
		fmt.Println("Audit tables present.")
	} else {
		fmt.Println("Audit tables missing; run 'automation-client migrate up'.")
	}
	return nil
}

func runClear() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.ClearInvocations(ctx, pool); err != nil {
		return fmt.Errorf("clear invocations: %w", err)
	}
	return nil
}
