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
	"time"

	"quempaga/pkg/ledger"
	"quempaga/pkg/store"

	"github.com/joho/godotenv"
)

func main() {
	month := flag.String("month", time.Now().Format("2006-01"), "month to report (YYYY-MM)")
	list := flag.Bool("list", false, "list matching entries")
	flag.Parse()

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

	rep, err := ledger.New(db).MonthlyReport(context.Background(), *month, *list)
	if err != nil {
		log.Fatalf("report failed: %v", err)
	}
	fmt.Printf("Report for month=%s:\n", rep.Month)
	fmt.Printf("  meals=%d total=%.2f\n", rep.Meals, rep.Total)
	for _, b := range rep.Buyers {
		fmt.Printf("  %-20s meals=%d total=%.2f\n", b.Buyer, b.Meals, b.Total)
	}
	for _, e := range rep.Entries {
		fmt.Printf("%d|%s|%s|%s|%.2f\n", e.ID, e.Date, e.Buyer, e.Type, e.Value)
	}
}
