package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/catalog"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/config"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/enum"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// CLI flags
	username := flag.String("username", "", "Admin username")
	password := flag.String("password", "", "Admin password")
	name := flag.String("name", "", "Admin full name")
	methods := flag.Bool("methods", true, "Seed the default payment methods when none exist")
	flag.Parse()

	// Fall back to environment variables
	if *username == "" {
		*username = os.Getenv("SEED_USERNAME")
	}
	if *password == "" {
		*password = os.Getenv("SEED_PASSWORD")
	}
	if *name == "" {
		*name = os.Getenv("SEED_NAME")
	}

	// Fall back to defaults
	if *username == "" {
		*username = "admin"
	}
	if *password == "" {
		*password = "password123"
		log.Warn().Msg("using default password 'password123'; change it immediately in production")
	}
	if *name == "" {
		*name = "Administrador"
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	docs, err := store.New(cfg.Store())
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("failed to open data directory")
	}

	ctx := context.Background()
	if err := seedAdmin(ctx, auth.NewUsers(docs), *username, *password, *name); err != nil {
		log.Fatal().Err(err).Msg("failed to seed admin")
	}
	if *methods {
		if err := seedMethods(ctx, docs); err != nil {
			log.Fatal().Err(err).Msg("failed to seed payment methods")
		}
	}
	log.Info().Str("data_dir", cfg.DataDir).Msg("seed completed successfully")
}

// seedAdmin creates the admin user if it doesn't exist.
func seedAdmin(ctx context.Context, users *auth.Users, username, password, fullName string) error {
	if _, ok := users.Find(username); ok {
		log.Info().Str("username", username).Msg("user already exists, skipping")
		return nil
	}
	u, err := users.Upsert(ctx, auth.User{
		Username:   username,
		FullName:   fullName,
		Role:       enum.RoleAdmin,
		Department: enum.DeptFinance,
	}, password)
	if err != nil {
		return err
	}
	log.Info().Str("username", u.Username).Str("role", u.Role).Msg("created admin user")
	return nil
}

var defaultMethods = []catalog.PaymentMethod{
	{ID: "dinheiro", Name: "Dinheiro", AvailableIn: []string{enum.ContextRestaurant, enum.ContextReception}},
	{ID: "pix", Name: "Pix", AvailableIn: []string{enum.ContextRestaurant, enum.ContextReception, enum.ContextReservation}, IsFiscal: true},
	{ID: "credito", Name: "Cartão de Crédito", AvailableIn: []string{enum.ContextRestaurant, enum.ContextReception, enum.ContextReservation}, IsFiscal: true},
	{ID: "debito", Name: "Cartão de Débito", AvailableIn: []string{enum.ContextRestaurant, enum.ContextReception}, IsFiscal: true},
}

// seedMethods writes the default registry only when it is empty.
func seedMethods(ctx context.Context, docs store.Documents) error {
	return docs.WithLock(ctx, catalog.PaymentMethodsKey, func() error {
		if existing := store.Load(docs, catalog.PaymentMethodsKey, []catalog.PaymentMethod{}); len(existing) > 0 {
			log.Info().Int("count", len(existing)).Msg("payment methods already present, skipping")
			return nil
		}
		if err := docs.Write(catalog.PaymentMethodsKey, defaultMethods); err != nil {
			return err
		}
		log.Info().Int("count", len(defaultMethods)).Msg("created default payment methods")
		return nil
	})
}
