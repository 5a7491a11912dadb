// Package main runs the one-shot aggregation batch CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	aggregatecmd "github.com/piyoraik/ffxiv-diecord-notify/internal/cmd/aggregate"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: aggregate <windows|roster|analyze> [flags]\n")
}

func main() {
	log.SetPrefix("[AGGREGATE] ")
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	subcommand := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch subcommand {
	case "windows":
		fs := flag.NewFlagSet("windows", flag.ExitOnError)
		cfg, err := aggregatecmd.ParseWindowsConfig(fs, args)
		if err != nil {
			log.Fatalf("parse flags: %v", err)
		}
		if err := aggregatecmd.RunWindows(ctx, cfg); err != nil {
			log.Fatalf("process windows: %v", err)
		}
	case "roster":
		fs := flag.NewFlagSet("roster", flag.ExitOnError)
		cfg, err := aggregatecmd.ParseRosterConfig(fs, args)
		if err != nil {
			log.Fatalf("parse flags: %v", err)
		}
		if err := aggregatecmd.RunRoster(ctx, cfg); err != nil {
			log.Fatalf("process roster: %v", err)
		}
	case "analyze":
		fs := flag.NewFlagSet("analyze", flag.ExitOnError)
		cfg, err := aggregatecmd.ParseAnalyzeConfig(fs, args)
		if err != nil {
			log.Fatalf("parse flags: %v", err)
		}
		if err := aggregatecmd.RunAnalyze(ctx, cfg); err != nil {
			log.Fatalf("analyze day: %v", err)
		}
	default:
		usage()
		os.Exit(1)
	}
}
