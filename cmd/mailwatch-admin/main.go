package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"mailwatch/internal/bootstrap"
	"mailwatch/internal/config"
	"mailwatch/internal/track"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

const usage = `mailwatch-admin manages provider-side tracking resources.

Usage:
  mailwatch-admin provision -provider <name>
  mailwatch-admin unsuppress -provider <name> -address <email>

Configuration is read from MAILWATCH_* environment variables, the same
way the server reads it.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zapr.NewLogger(zapLogger)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	registry := bootstrap.BuildRegistry(ctx, cfg, logger)

	switch os.Args[1] {
	case "provision":
		fs := flag.NewFlagSet("provision", flag.ExitOnError)
		provider := fs.String("provider", cfg.Provider, "provider to provision (ses, postmark)")
		_ = fs.Parse(os.Args[2:])
		runProvision(ctx, registry, *provider)
	case "unsuppress":
		fs := flag.NewFlagSet("unsuppress", flag.ExitOnError)
		provider := fs.String("provider", cfg.Provider, "provider holding the suppression (ses, postmark)")
		address := fs.String("address", "", "email address to remove from the suppression list")
		_ = fs.Parse(os.Args[2:])
		runUnsuppress(ctx, registry, *provider, *address)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func runProvision(ctx context.Context, registry *track.Registry, provider string) {
	if !registry.Supports(provider) {
		log.Fatalf("provider %q is not configured", provider)
	}
	driver := registry.Resolve(provider)
	fmt.Printf("provisioning %s tracking resources\n", driver.Name())
	if err := driver.Provision(ctx, consoleReporter{}); err != nil {
		log.Fatalf("provisioning failed: %v", err)
	}
	fmt.Println("provisioning complete")
}

func runUnsuppress(ctx context.Context, registry *track.Registry, provider, address string) {
	if address == "" {
		log.Fatal("missing -address")
	}
	if !registry.Supports(provider) {
		log.Fatalf("provider %q is not configured", provider)
	}
	driver := registry.Resolve(provider)
	if err := driver.RemoveFromSuppressionList(ctx, address); err != nil {
		log.Fatalf("suppression removal failed: %v", err)
	}
	fmt.Printf("%s removed from the %s suppression list\n", address, driver.Name())
}

type consoleReporter struct{}

func (consoleReporter) Progress(step, message string) {
	fmt.Printf("  [%s] %s\n", step, message)
}

func (consoleReporter) Failed(step string, err error) {
	fmt.Printf("  [%s] failed: %v\n", step, err)
}
