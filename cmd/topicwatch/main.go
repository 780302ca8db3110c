package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"topicwatch/internal/app"
	"topicwatch/internal/config"
)

var version = "dev"

func main() {
	var (
		cfgPath string
		envFile string
		mcp     bool
		once    bool
		showVer bool
	)
	pflag.StringVarP(&cfgPath, "config", "c", "./config.json", "path to config file (json or yaml)")
	pflag.StringVar(&envFile, "env-file", ".env", "optional .env file with TOPICWATCH_* overrides")
	pflag.BoolVar(&mcp, "mcp", false, "serve MCP tools on stdio")
	pflag.BoolVar(&once, "once", false, "run a single monitoring cycle, print the report and exit")
	pflag.BoolVarP(&showVer, "version", "v", false, "print version and exit")
	pflag.Parse()

	if showVer {
		fmt.Println(version)
		return
	}

	if err := config.LoadEnvFile(envFile); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: env file:", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(app.Options{ConfigPath: cfgPath, MCP: mcp && !once, Version: version})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if once {
		os.Exit(runOnce(ctx, a))
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stop(a)
		os.Exit(1)
	}

	<-a.Done()
	stop(a)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runOnce(ctx context.Context, a *app.App) int {
	rep, err := a.RunOnce(ctx)
	stop(a)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rep.Summary())
	if err != nil {
		fmt.Fprintln(os.Stderr, "run failed:", err)
		return 1
	}
	return 0
}

func stop(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = a.Stop(ctx)
}
