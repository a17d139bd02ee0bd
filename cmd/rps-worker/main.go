package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gamehub/internal/games/rps"
	"gamehub/internal/worker"
)

func main() {
	flag.Bool("gamehub", false, "speak the gamehub worker protocol on stdin and stdout")
	flag.Parse()

	// stdout carries the protocol; diagnostics go to stderr.
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Serve(ctx, rps.Engine{}, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("rps worker: %v", err)
	}
}
