// Command keyservctl provides administrative commands for keyserv:
// schema initialization and operator provisioning.
//
// Usage:
//
//	keyservctl [flags] initdb
//	keyservctl [flags] create-user USERNAME [LEVEL]
//
// Flags are the server flags (-m driver, -d dsn, ...); create-user prompts
// for the password without echo.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/term"

	"github.com/dmitrijs2005/keyserv/internal/common"
	"github.com/dmitrijs2005/keyserv/internal/logging"
	"github.com/dmitrijs2005/keyserv/internal/server/config"
	"github.com/dmitrijs2005/keyserv/internal/server/models"
	"github.com/dmitrijs2005/keyserv/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/keyserv/internal/server/services"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keyservctl [flags] initdb | create-user USERNAME [LEVEL]")
	os.Exit(2)
}

func positionalArgs(args []string) []string {
	var out []string
	skip := false
	for _, a := range args {
		if skip {
			skip = false
			continue
		}
		if len(a) > 0 && a[0] == '-' {
			skip = true
			continue
		}
		out = append(out, a)
	}
	return out
}

func getPassword(prompt string) ([]byte, error) {
	fmt.Println(prompt)
	return term.ReadPassword(int(os.Stdin.Fd()))
}

func runInitDB(ctx context.Context, cfg *config.Config) error {
	db, rm, err := repomanager.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := rm.RunMigrations(ctx, db); err != nil {
		return err
	}

	fmt.Println("database initialized")
	return nil
}

func runCreateUser(ctx context.Context, cfg *config.Config, username string, level int) error {
	db, rm, err := repomanager.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	us, err := services.NewUserService(db, rm, cfg, logger)
	if err != nil {
		return err
	}

	password, err := getPassword("Enter password:")
	if err != nil {
		return err
	}
	confirmation, err := getPassword("Repeat password:")
	if err != nil {
		return err
	}
	if !bytes.Equal(password, confirmation) {
		common.WipeByteArray(password)
		common.WipeByteArray(confirmation)
		return fmt.Errorf("passwords do not match")
	}
	common.WipeByteArray(confirmation)

	user, err := us.Provision(ctx, username, password, level)
	if err != nil {
		return err
	}

	fmt.Printf("user %s created (level %d)\n", user.Username, user.Level)
	return nil
}

func main() {

	ctx := context.Background()

	cfg := config.LoadConfig()

	args := positionalArgs(os.Args[1:])
	if len(args) < 1 {
		usage()
	}

	var err error

	switch args[0] {
	case "initdb":
		err = runInitDB(ctx, cfg)
	case "create-user":
		if len(args) < 2 {
			usage()
		}
		level := models.DefaultUserLevel
		if len(args) > 2 {
			level, err = strconv.Atoi(args[2])
			if err != nil {
				log.Fatalf("invalid level %q: %v", args[2], err)
			}
		}
		err = runCreateUser(ctx, cfg, args[1], level)
	default:
		usage()
	}

	if err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}
