package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"

	"quempaga/models"
	"quempaga/pkg/identity"
	"quempaga/pkg/store"

	"github.com/joho/godotenv"
)

func main() {
	if len(os.Args) < 2 || len(os.Args) > 3 {
		fmt.Println("usage: go run ./cmd/create_user <email> [password]")
		os.Exit(2)
	}
	email := os.Args[1]
	password := ""
	if len(os.Args) == 3 {
		password = os.Args[2]
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load .env: %v", err)
	}
	dsn := os.Getenv("DB_DSN")
	if strings.TrimSpace(dsn) == "" {
		dsn = "database.db"
	}
	db, err := store.Open(dsn)
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	if err := store.Setup(db, true); err != nil {
		log.Fatalf("failed to prepare db: %v", err)
	}

	idm, err := identity.New(db, identity.Config{PasswordSalt: os.Getenv("SECURITY_PASSWORD_SALT")})
	if err != nil {
		log.Fatalf("failed to init identity: %v", err)
	}
	user, err := idm.CreateUser(context.Background(), email, password)
	switch {
	case errors.Is(err, identity.ErrConflict):
		fmt.Printf("user %s already exists\n", email)
		return
	case err != nil:
		log.Fatalf("failed to create user: %v", err)
	}
	login := "passkey only"
	if password != "" {
		login = "password"
	}
	fmt.Printf("created user %s id=%d role=%s (%s)\n", user.Email, user.ID, models.RoleUser, login)
}
