// seed inserts a handful of test users into the local dev database.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/ruslanbekov/magic-auth/internal/domain"
	"github.com/ruslanbekov/magic-auth/internal/infrastructure/postgres"
)

var seedEmails = []string{
	"alice@test.local",
	"bob@test.local",
	"carol@test.local",
	// deactivated below; useful for exercising the 403 path
	"frozen@test.local",
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewUserRepository(pool)

	for _, email := range seedEmails {
		user, err := repo.FindByEmail(ctx, email)
		if err != nil {
			if !errors.Is(err, domain.ErrUserNotFound) {
				log.Fatalf("find %s: %v", email, err)
			}
			user, err = repo.Create(ctx, email)
			if err != nil {
				log.Fatalf("create %s: %v", email, err)
			}
		}
		fmt.Printf("user %s -> %s\n", user.Email, user.ID)
	}

	frozen, err := repo.FindByEmail(ctx, "frozen@test.local")
	if err != nil {
		log.Fatalf("find frozen user: %v", err)
	}
	if err := repo.SetActive(ctx, frozen.ID, false); err != nil {
		log.Fatalf("deactivate frozen user: %v", err)
	}
	fmt.Println("deactivated frozen@test.local")
}
