// Command storefront-admin runs one-off maintenance tasks against the
// storefront database.
//
//	storefront-admin create-admin -name "Admin User" -email admin@example.com -password s3cret!
//	storefront-admin seed
//	storefront-admin check-duplicates
//	storefront-admin remove-duplicates -yes
package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"storefront/config"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

//go:embed products.json
var productFixture []byte

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <create-admin|seed|check-duplicates|remove-duplicates> [flags]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "create-admin":
		err = createAdmin(ctx, cfg, os.Args[2:])
	case "seed":
		err = seed(ctx, cfg, os.Args[2:])
	case "check-duplicates":
		err = checkDuplicates(ctx, cfg, os.Stdout)
	case "remove-duplicates":
		err = removeDuplicates(ctx, cfg, os.Args[2:], os.Stdout)
	default:
		usage()
	}
	if err != nil {
		logger.Fatal("Command failed", zap.String("command", os.Args[1]), zap.Error(err))
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func createAdmin(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)
	name := fs.String("name", "Admin User", "display name")
	email := fs.String("email", "admin@example.com", "login email")
	password := fs.String("password", "", "initial password, required for new accounts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	auth := service.NewAuthService(db, cfg.JWT.Secret, cfg.JWT.Expiry)
	user, created, err := auth.EnsureAdmin(ctx, *name, *email, *password)
	if err != nil {
		return err
	}

	if created {
		fmt.Printf("Admin user created: %s <%s>\n", user.Name, user.Email)
		fmt.Println("Change the password after first login.")
	} else {
		fmt.Printf("%s is an admin\n", user.Email)
	}
	return nil
}

func seed(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	file := fs.String("file", "", "JSON product fixture, defaults to the built-in catalog")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw := productFixture
	if *file != "" {
		b, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("failed to read fixture: %w", err)
		}
		raw = b
	}

	var products []service.ProductInput
	if err := json.Unmarshal(raw, &products); err != nil {
		return fmt.Errorf("failed to parse fixture: %w", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := service.NewCatalogService(db).Seed(ctx, products)
	if err != nil {
		return err
	}
	fmt.Printf("Seeded %d products\n", n)
	return nil
}

func checkDuplicates(ctx context.Context, cfg *config.Config, out io.Writer) error {
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	groups, err := service.NewCatalogService(db).FindDuplicates(ctx)
	if err != nil {
		return err
	}
	printDuplicates(out, groups)
	return nil
}

func removeDuplicates(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("remove-duplicates", flag.ExitOnError)
	yes := fs.Bool("yes", false, "delete without listing first")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	catalog := service.NewCatalogService(db)
	if !*yes {
		groups, err := catalog.FindDuplicates(ctx)
		if err != nil {
			return err
		}
		printDuplicates(out, groups)
		if len(groups) > 0 {
			fmt.Fprintln(out, "Re-run with -yes to keep the oldest product of each name and delete the rest.")
		}
		return nil
	}

	n, err := catalog.RemoveDuplicates(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %d duplicate products\n", n)
	return nil
}

func printDuplicates(out io.Writer, groups []store.DuplicateGroup) {
	if len(groups) == 0 {
		fmt.Fprintln(out, "No duplicate products found")
		return
	}
	fmt.Fprintf(out, "Found %d duplicate product names:\n", len(groups))
	for _, g := range groups {
		fmt.Fprintf(out, "  %s (%d copies)\n", g.Name, len(g.IDs))
		for i, id := range g.IDs {
			marker := "delete"
			if i == 0 {
				marker = "keep"
			}
			fmt.Fprintf(out, "    %s  %s\n", id, marker)
		}
	}
}
