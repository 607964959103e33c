// Command seed prepares a fresh environment: it sets the disbursement
// date, posts the welcome notification and can mint the admin password
// hash for configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/swissgrant/platform/internal/config"
	"github.com/swissgrant/platform/internal/grant"
	"github.com/swissgrant/platform/internal/storage"
	"github.com/swissgrant/platform/internal/storage/memory"
	"github.com/swissgrant/platform/internal/storage/postgres"
	"github.com/swissgrant/platform/internal/storage/supastore"
	"github.com/swissgrant/platform/internal/supabase"
	"github.com/swissgrant/platform/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	disburse := flag.String("disbursement", "", "disbursement date, RFC3339 (e.g. 2026-12-01T00:00:00Z)")
	welcome := flag.String("welcome", "", "broadcast notification to post")
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash for an admin password and exit")
	flag.Parse()

	log := logger.NewConsole("seed")

	if *hashPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*hashPassword), bcrypt.DefaultCost)
		if err != nil {
			log.Err(err, "hash failed")
			os.Exit(1)
		}
		fmt.Println(string(hash))
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Err(err, "configuration invalid")
		os.Exit(1)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Err(err, "store unavailable")
		os.Exit(1)
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *disburse != "" {
		date, err := time.Parse(time.RFC3339, *disburse)
		if err != nil {
			log.Err(err, "invalid disbursement date")
			os.Exit(1)
		}
		setting := &grant.DisbursementSetting{DisbursementDate: date.UTC()}
		if existing, err := store.GetDisbursement(ctx); err == nil {
			setting.ID = existing.ID
		}
		if err := store.SetDisbursement(ctx, setting); err != nil {
			log.Err(err, "set disbursement failed")
			os.Exit(1)
		}
		log.Info("disbursement date set to %s", date.Format(time.RFC3339))
	}

	if *welcome != "" {
		if err := store.CreateNotification(ctx, &grant.Notification{Message: *welcome}); err != nil {
			log.Err(err, "post notification failed")
			os.Exit(1)
		}
		log.Info("welcome notification posted")
	}
}

func openStore(cfg *config.Config) (storage.Store, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := postgres.Open(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Store.MigrationsPath != "" {
			if err := pg.Migrate(cfg.Store.MigrationsPath); err != nil {
				pg.Close()
				return nil, nil, err
			}
		}
		return pg, func() { pg.Close() }, nil
	case "memory":
		return memory.New(), func() {}, nil
	default:
		client, err := supabase.NewClient(supabase.Config{
			ProjectURL: cfg.Supabase.URL,
			AnonKey:    cfg.Supabase.AnonKey,
			ServiceKey: cfg.Supabase.ServiceKey,
			Timeout:    cfg.Supabase.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return supastore.New(client), func() {}, nil
	}
}
