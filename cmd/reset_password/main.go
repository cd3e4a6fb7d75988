package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"

	"quempaga/pkg/identity"
	"quempaga/pkg/store"

	"github.com/joho/godotenv"
)

func main() {
	email := flag.String("email", "", "account email")
	password := flag.String("password", "", "new plaintext password (min 6 chars)")
	clearPw := flag.Bool("clear", false, "remove the password, leaving passkey login only")
	flag.Parse()
	if *email == "" || (*password == "" && !*clearPw) {
		log.Fatal("--email and --password (or --clear) are required")
	}
	if !*clearPw && len(*password) < 6 {
		log.Fatal("password too short (min 6)")
	}
	if *clearPw {
		*password = ""
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
		log.Fatalf("open db: %v", err)
	}
	idm, err := identity.New(db, identity.Config{PasswordSalt: os.Getenv("SECURITY_PASSWORD_SALT")})
	if err != nil {
		log.Fatalf("init identity: %v", err)
	}
	if err := idm.SetPassword(context.Background(), *email, *password); err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			log.Fatalf("user %s not found", *email)
		}
		log.Fatalf("update failed: %v", err)
	}
	fmt.Printf("Password reset for user %s\n", *email)
}
