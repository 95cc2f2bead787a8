package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"payrecon.com/internal/recon/app"
)

func main() {
	// SIGINT/SIGTERM 取消 ctx，HTTP、feed、sweeper 依次优雅退出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		log.Fatalf("recon-service: %v", err)
	}
}
