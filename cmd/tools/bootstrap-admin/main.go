// Command bootstrap-admin seeds an administrator account and mints its service key.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"coursedeck/internal/auth"
	"coursedeck/internal/models"
	"coursedeck/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		email       string
		fullName    string
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&email, "email", "", "Email address for the admin account")
	flag.StringVar(&fullName, "name", "Administrator", "Full name for the admin account")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	if strings.TrimSpace(email) == "" {
		fatalf("--email is required")
	}
	if strings.TrimSpace(fullName) == "" {
		fatalf("--name cannot be empty")
	}

	repo, err := openRepository(jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	email = strings.TrimSpace(email)
	fullName = strings.TrimSpace(fullName)

	account, key, created, err := bootstrapAdmin(repo, email, fullName)
	if err != nil {
		fatalf("bootstrap admin: %v", err)
	}

	state := "updated"
	if created {
		state = "created"
	}
	fmt.Printf("Admin account %s (%s) %s successfully.\n", account.Email, account.FullName, state)
	fmt.Printf("Service key (shown once, store it securely):\n  %s\n", key.Token)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewJSONRepository(jsonPath)
	}
	return storage.NewPostgresRepository(postgresDSN)
}

func closeRepository(repo storage.Repository) {
	type closer interface {
		Close(context.Context) error
	}
	if c, ok := repo.(closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}
}

func bootstrapAdmin(repo storage.Repository, email, fullName string) (models.Account, auth.ServiceKey, bool, error) {
	account, created, err := ensureAdminAccount(repo, email, fullName)
	if err != nil {
		return models.Account{}, auth.ServiceKey{}, false, err
	}

	key, err := auth.GenerateServiceKey()
	if err != nil {
		return models.Account{}, auth.ServiceKey{}, false, err
	}
	account, err = repo.SetAccountServiceKey(account.ID, key.ID, key.SecretHash)
	if err != nil {
		return models.Account{}, auth.ServiceKey{}, false, err
	}
	return account, key, created, nil
}

func ensureAdminAccount(repo storage.Repository, email, fullName string) (models.Account, bool, error) {
	existing, ok := repo.FindAccountByEmail(email)
	if !ok {
		account, err := repo.UpsertAccountFromIdentity(storage.CreateAccountParams{
			Email:    email,
			FullName: fullName,
			Role:     models.RoleAdmin,
		})
		if err != nil {
			return models.Account{}, false, err
		}
		return account, true, nil
	}

	var update storage.AccountUpdate
	if existing.FullName != fullName {
		update.FullName = &fullName
	}
	if !existing.HasRole(models.RoleAdmin) {
		role := models.RoleAdmin
		update.Role = &role
	}
	if update.FullName == nil && update.Role == nil {
		return existing, false, nil
	}
	updated, err := repo.UpdateAccount(existing.ID, update)
	if err != nil {
		return models.Account{}, false, err
	}
	return updated, false, nil
}
