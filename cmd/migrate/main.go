package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"genforge/internal/db"
)

func main() {
	_ = godotenv.Load()

	timeout := flag.Duration("timeout", 2*time.Minute, "overall migration timeout")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: migrate [-timeout d] up|down|status\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	command := strings.ToLower(strings.TrimSpace(flag.Arg(0)))
	if command == "" {
		command = "up"
	}

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dsn == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	conn, err := db.Open(dsn)
	if err != nil {
		exitWithError(err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch command {
	case "up":
		err = db.Up(ctx, conn)
	case "down":
		err = db.Down(ctx, conn)
	case "status":
		err = db.Status(ctx, conn)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		exitWithError(fmt.Errorf("migrate %s: %w", command, err))
	}
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
