// Command genctl submits a generation job and waits for its result.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"genforge/internal/client"
	"genforge/internal/domain/jsoncfg"
	"genforge/internal/infra"
	"genforge/internal/middleware"
	"genforge/internal/notify"
)

type options struct {
	apiURL     string
	owner      string
	prompt     string
	style      string
	aspect     string
	characters string
	panels     string
	paramsFile string
	cost       int64
	resume     string
	recent     time.Duration
	plain      bool
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.apiURL, "api", envOr("GENFORGE_API_URL", "http://localhost:8080"), "API base URL")
	flag.StringVar(&opts.owner, "owner", os.Getenv("GENFORGE_OWNER"), "owner id used when minting a token from JWT_SECRET")
	flag.StringVar(&opts.prompt, "prompt", "", "what to generate")
	flag.StringVar(&opts.style, "style", "", "visual style")
	flag.StringVar(&opts.aspect, "aspect", "1:1", "aspect ratio")
	flag.StringVar(&opts.characters, "characters", "", "comma separated character names, rendered then composed")
	flag.StringVar(&opts.panels, "panels", "", "semicolon separated panel descriptions, rendered then composed")
	flag.StringVar(&opts.paramsFile, "params", "", "read generation params from a JSON file instead")
	flag.Int64Var(&opts.cost, "cost", 5, "diamonds charged for the job")
	flag.StringVar(&opts.resume, "resume", "", "wait on a job id from an interrupted run")
	flag.DurationVar(&opts.recent, "recent", 0, "show the newest succeeded job within this window and exit")
	flag.BoolVar(&opts.plain, "plain", false, "print progress lines instead of the interactive view")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func run(opts options) error {
	token, err := resolveToken(opts.owner)
	if err != nil {
		return err
	}
	api := client.NewAPI(opts.apiURL, token, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.recent > 0 {
		job, err := api.LatestSucceeded(ctx, time.Now().Add(-opts.recent))
		if err != nil {
			return err
		}
		if job == nil {
			fmt.Println(mutedStyle.Render("no succeeded job in the last " + opts.recent.String()))
			return nil
		}
		fmt.Printf("%s %s\n", okStyle.Render(job.ID), job.ResultRef)
		return nil
	}

	params, err := buildParams(opts)
	if err != nil {
		return err
	}

	events, closeEvents := openEvents()
	defer closeEvents()

	logger := zerolog.Nop()
	if opts.plain {
		logger = infra.NewLogger("cli").With().Str("cmd", "genctl").Logger()
	}
	job := func(onProgress func(jobID, progress string)) (*client.Outcome, error) {
		orch := client.NewOrchestrator(api, events, client.Options{OnProgress: onProgress, Logger: logger})
		if opts.resume != "" {
			return orch.Resume(ctx, opts.resume, params, opts.cost)
		}
		return orch.Generate(ctx, params, opts.cost)
	}

	if opts.plain || !stdoutIsTTY() {
		out, err := job(func(jobID, progress string) {
			fmt.Printf("%s %s\n", mutedStyle.Render(jobID), progress)
		})
		if err != nil {
			return err
		}
		printOutcome(out)
		return nil
	}
	return runInteractive(ctx, stop, job)
}

// resolveToken prefers GENFORGE_TOKEN and otherwise signs a short-lived token
// for owner with JWT_SECRET, which only works against a server you operate.
func resolveToken(owner string) (string, error) {
	if token := strings.TrimSpace(os.Getenv("GENFORGE_TOKEN")); token != "" {
		return token, nil
	}
	secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	owner = strings.TrimSpace(owner)
	if secret == "" || owner == "" {
		return "", errors.New("set GENFORGE_TOKEN, or JWT_SECRET together with -owner")
	}
	return middleware.IssueToken(secret, owner, time.Hour)
}

func buildParams(opts options) (json.RawMessage, error) {
	if opts.paramsFile != "" {
		raw, err := os.ReadFile(opts.paramsFile)
		if err != nil {
			return nil, fmt.Errorf("read params: %w", err)
		}
		if _, err := jsoncfg.ParseParams(raw); err != nil {
			return nil, fmt.Errorf("params %s: %w", opts.paramsFile, err)
		}
		return raw, nil
	}
	if strings.TrimSpace(opts.prompt) == "" {
		return nil, errors.New("-prompt or -params is required")
	}
	params := jsoncfg.GenerationParams{
		Prompt:      opts.prompt,
		Style:       opts.style,
		AspectRatio: strings.TrimSpace(opts.aspect),
	}
	params.Normalize()
	for _, name := range splitList(opts.characters, ",") {
		params.Characters = append(params.Characters, jsoncfg.CharacterSpec{Name: name})
	}
	for i, desc := range splitList(opts.panels, ";") {
		params.Panels = append(params.Panels, jsoncfg.PanelSpec{Caption: fmt.Sprintf("Panel %d", i+1), Description: desc})
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(params)
}

// openEvents subscribes to push events when REDIS_URL is reachable. Without it
// the orchestrator polls.
func openEvents() (notify.Subscriber, func()) {
	url := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if url == "" {
		return nil, func() {}
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, func() {}
	}
	rdb := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, func() {}
	}
	return notify.NewRedis(rdb, envOr("PUSH_CHANNEL_PREFIX", "genforge:jobs:"), zerolog.Nop()), func() { _ = rdb.Close() }
}

func printOutcome(out *client.Outcome) {
	fmt.Printf("%s %s\n", okStyle.Render("done"), out.ResultRef)
	fmt.Printf("job_id=%s\n", out.JobID)
	if out.Balance >= 0 {
		fmt.Printf("balance=%d\n", out.Balance)
	}
	if out.Recovered {
		fmt.Println(mutedStyle.Render("result recovered after a connection fault"))
	}
}

func splitList(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func stdoutIsTTY() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
