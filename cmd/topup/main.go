package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"genforge/internal/adapter/repo"
	"genforge/internal/billing"
	"genforge/internal/infra"
)

func main() {
	_ = godotenv.Load()

	var (
		ownerFlag  string
		amountFlag int64
		noteFlag   string
	)
	flag.StringVar(&ownerFlag, "owner", "", "owner id to credit")
	flag.Int64Var(&amountFlag, "amount", 0, "diamonds to add (must be positive)")
	flag.StringVar(&noteFlag, "note", "manual top up", "ledger description")
	flag.Parse()

	owner := strings.TrimSpace(ownerFlag)
	if owner == "" {
		exitWithError(errors.New("-owner is required"))
	}
	if amountFlag <= 0 {
		exitWithError(errors.New("-amount must be positive"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "topup").Logger()
	store := repo.NewStore(infra.NewSQLRunner(pool, logger))
	ledger := billing.NewLedger(store, logger)

	balance, err := ledger.TopUp(ctx, owner, amountFlag, billing.Truncate(noteFlag, 200))
	if err != nil {
		exitWithError(fmt.Errorf("failed to top up: %w", err))
	}
	fmt.Printf("Owner %s credited %d diamonds\n", owner, amountFlag)
	fmt.Printf("balance=%d\n", balance)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
