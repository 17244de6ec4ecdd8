package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"genforge/internal/infra"
	"genforge/internal/infra/credentials"
)

func main() {
	_ = godotenv.Load()

	var (
		keyFlag     string
		labelFlag   string
		disableFlag bool
		listFlag    bool
	)
	flag.StringVar(&keyFlag, "key", "", "Gemini API key to add to the pool (falls back to GEMINI_API_KEY)")
	flag.StringVar(&labelFlag, "label", credentials.DefaultLabel, "pool label of the key")
	flag.BoolVar(&disableFlag, "disable", false, "take the labelled key out of rotation")
	flag.BoolVar(&listFlag, "list", false, "list the labels of enabled keys")
	flag.Parse()

	label := strings.TrimSpace(labelFlag)
	if label == "" {
		label = credentials.DefaultLabel
	}

	key := strings.TrimSpace(keyFlag)
	if key == "" && !disableFlag && !listFlag {
		key = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
		if key == "" {
			fmt.Fprintln(os.Stderr, "API key is required via -key or GEMINI_API_KEY")
			os.Exit(1)
		}
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "apikey").Str("label", label).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	switch {
	case listFlag:
		tokens, err := store.Tokens(ctx, credentials.ProviderGemini)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list keys: %v\n", err)
			os.Exit(1)
		}
		for _, t := range tokens {
			fmt.Printf("%s\t%s\n", t.Label, mask(t.Value))
		}
	case disableFlag:
		found, err := store.Disable(ctx, credentials.ProviderGemini, label)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to disable key %q: %v\n", label, err)
			os.Exit(1)
		}
		if !found {
			fmt.Fprintf(os.Stderr, "no enabled key labelled %q\n", label)
			os.Exit(1)
		}
		fmt.Printf("key %q disabled\n", label)
	default:
		if err := store.SetToken(ctx, credentials.ProviderGemini, label, key, map[string]any{"source": "apikey"}); err != nil {
			fmt.Fprintf(os.Stderr, "failed to persist api key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("key %q stored successfully\n", label)
	}
}

func mask(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}
