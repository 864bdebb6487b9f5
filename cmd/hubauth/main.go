package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/litimahmed/universal-hub/internal/authority/app"
	"github.com/litimahmed/universal-hub/pkg/authsdk"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "check the local authority's /readyz and exit")
	version := flag.Bool("version", false, "print the build version and exit")
	flag.Parse()

	cfg := app.LoadConfig()

	switch {
	case *version:
		fmt.Println(app.BuildVersion)
		return
	case *healthcheck:
		os.Exit(checkReady(cfg))
	}

	authority, err := app.New(cfg)
	if err != nil {
		log.Fatalf("hubauth: init: %v", err)
	}
	if err := authority.Run(); err != nil {
		log.Fatalf("hubauth: %v", err)
	}
}

// checkReady lets a container healthcheck reuse the binary instead of curl.
func checkReady(cfg app.Config) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sdk := authsdk.NewSDKClient(fmt.Sprintf("http://127.0.0.1:%d", cfg.Port), cfg.ClientID)
	health, err := sdk.GetReadiness(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(health.Status)
	return 0
}
