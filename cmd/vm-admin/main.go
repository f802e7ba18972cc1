package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/versionmanager/pkg/audit"
	"github.com/platinummonkey/versionmanager/pkg/auth"
	"github.com/platinummonkey/versionmanager/pkg/config"
	"github.com/platinummonkey/versionmanager/pkg/instances"
	"github.com/platinummonkey/versionmanager/pkg/observability"
	"github.com/platinummonkey/versionmanager/pkg/storage/postgres"
	"github.com/platinummonkey/versionmanager/pkg/users"
)

const usage = `Usage: vm-admin <command> [flags]

Commands:
  migrate       apply database migrations and create the default instance
  seed-user     create an account (-email -name [-password] [-superadmin])
  promote       grant SuperAdmin to an existing account (-email)
  prune-audit   delete audit events older than -days
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	logger := setupLogger(os.Getenv("VM_LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := postgres.NewAppPool(ctx, cfg.Database.URL, cfg.Database.Connection(), nil)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "migrate":
		err = migrate(ctx, db, logger)
	case "seed-user":
		err = seedUser(ctx, db, args, logger)
	case "promote":
		err = promote(ctx, db, args, logger)
	case "prune-audit":
		err = pruneAudit(ctx, db, args, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.WithField("command", cmd).Fatalf("Command failed: %v", err)
	}
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func migrate(ctx context.Context, db *postgres.AppPool, logger *logrus.Logger) error {
	if err := postgres.RunMigrations(ctx, db.DB()); err != nil {
		return err
	}
	inst, err := instances.NewPostgresService(db).EnsureDefault(ctx)
	if err != nil {
		return err
	}
	logger.WithField("instance", inst.ID).Info("Migrations applied")
	return nil
}

func seedUser(ctx context.Context, db *postgres.AppPool, args []string, logger *logrus.Logger) error {
	fs := flag.NewFlagSet("seed-user", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	name := fs.String("name", "", "display name")
	password := fs.String("password", "", "initial password; empty leaves the account Invited")
	superAdmin := fs.Bool("superadmin", false, "grant SuperAdmin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *name == "" {
		return fmt.Errorf("-email and -name are required")
	}

	in := users.NewUser{
		Name:         *name,
		Email:        *email,
		Status:       users.StatusInvited,
		IsSuperAdmin: *superAdmin,
	}
	if *password != "" {
		hash, err := auth.HashPassword(*password)
		if err != nil {
			return err
		}
		in.PasswordHash = hash
		in.Status = users.StatusActive
	}

	u, err := users.NewPostgresStore(db).Create(ctx, in)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"id":         u.ID,
		"email":      u.Email,
		"status":     u.Status,
		"superadmin": u.IsSuperAdmin,
	}).Info("User created")
	return nil
}

func promote(ctx context.Context, db *postgres.AppPool, args []string, logger *logrus.Logger) error {
	fs := flag.NewFlagSet("promote", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return fmt.Errorf("-email is required")
	}

	store := users.NewPostgresStore(db)
	u, err := store.GetByEmail(ctx, *email)
	if err != nil {
		return err
	}
	if err := store.SetSuperAdmin(ctx, u.ID, true); err != nil {
		return err
	}
	audit.NewDBLogger(db, observability.NewNopLogger()).Log(ctx, audit.Event{
		Action:     audit.ActionSuperAdminGrant,
		ActorEmail: "vm-admin",
		EntityType: audit.EntityUser,
		EntityID:   u.ID,
	})
	logger.WithField("email", u.Email).Info("SuperAdmin granted")
	return nil
}

func pruneAudit(ctx context.Context, db *postgres.AppPool, args []string, logger *logrus.Logger) error {
	fs := flag.NewFlagSet("prune-audit", flag.ContinueOnError)
	days := fs.Int("days", 90, "keep this many days of events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *days <= 0 {
		return fmt.Errorf("-days must be positive")
	}

	cutoff := time.Now().Add(-time.Duration(*days) * 24 * time.Hour)
	n, err := audit.NewDBLogger(db, observability.NewNopLogger()).Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"deleted": n, "before": cutoff.Format(time.RFC3339)}).Info("Audit log pruned")
	return nil
}
