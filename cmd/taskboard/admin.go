package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/cli"
	"github.com/platinummonkey/taskboard/pkg/jobs"
)

func migrate(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("migrate takes no arguments")
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, pg, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("Migrations applied")
	return pg.Close()
}

func purgeTokens(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("purge-tokens takes no arguments")
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, pg, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	janitor, err := jobs.NewJanitor(pg, cfg.Jobs.PurgeSchedule, jobs.WithLogger(logger))
	if err != nil {
		return err
	}
	n, err := janitor.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("cleared %d expired tokens\n", n)
	return nil
}

func createAdmin(args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	username := fs.String("username", "", "Username of the administrator")
	email := fs.String("email", "", "Email address of the administrator")
	password := fs.String("password", os.Getenv("TASKBOARD_ADMIN_PASSWORD"), "Password (defaults to $TASKBOARD_ADMIN_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, pg, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pg.Close()

	u, err := cli.CreateAdmin(ctx, pg, cli.AdminInput{
		Username: *username,
		Email:    *email,
		Password: *password,
	})
	if err != nil {
		return errors.New(strings.Join(cli.FieldErrors(err), "; "))
	}

	auditor, err := newAuditor(cfg.Observability.AuditLogFile, logger)
	if err != nil {
		return err
	}
	defer auditor.Close()
	auditor.Log(ctx, audit.NewEvent(audit.EventAdminCreate, audit.StatusSuccess).
		WithUser(u.ID).WithEmail(u.Email).WithMessage("created from the command line"))
	fmt.Printf("created administrator %s (%s)\n", u.Username, u.ID)
	return nil
}
