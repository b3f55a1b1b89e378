package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/carrier-mapping/internal/app"
	"github.com/ignite/carrier-mapping/internal/config"
	"github.com/ignite/carrier-mapping/internal/domain"
	"github.com/ignite/carrier-mapping/internal/service/mappings"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	insurer := flag.String("insurer", "", "seed a single carrier (id or name) instead of every active one")
	create := flag.String("create", "", "register a new carrier with this name before seeding")
	dryRun := flag.Bool("dry-run", false, "list the carriers that would be seeded without writing")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	if *create != "" {
		ins, err := a.Store.CreateInsurer(ctx, *create)
		if err != nil {
			log.Fatalf("create insurer: %v", err)
		}
		log.Printf("Created insurer %s (%s)", ins.Name, ins.ID)
		*insurer = ins.ID
	}

	targets, err := selectInsurers(ctx, a.Mappings, *insurer)
	if err != nil {
		log.Fatalf("select insurers: %v", err)
	}
	if len(targets) == 0 {
		log.Println("No active insurers found. Nothing to seed.")
		return
	}

	rulesPerInsurer := len(mappings.SeedBundle().Rules)
	if *dryRun {
		for _, ins := range targets {
			log.Printf("[dry-run] would seed %s (%s) with %d rules", ins.Name, ins.ID, rulesPerInsurer)
		}
		return
	}

	for _, ins := range targets {
		if _, err := a.Mappings.SeedDefaults(ctx, ins.ID); err != nil {
			log.Fatalf("seed %s (%s): %v", ins.Name, ins.ID, err)
		}
		log.Printf("Seeded %s (%s)", ins.Name, ins.ID)
	}

	log.Printf("active_insurers=%d rules_per_insurer=%d rules_total=%d",
		len(targets), rulesPerInsurer, len(targets)*rulesPerInsurer)
}

func selectInsurers(ctx context.Context, svc *mappings.Service, idOrName string) ([]domain.Insurer, error) {
	if idOrName == "" {
		return svc.ListActiveInsurers(ctx)
	}
	ins, err := svc.ResolveInsurer(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	return []domain.Insurer{*ins}, nil
}
