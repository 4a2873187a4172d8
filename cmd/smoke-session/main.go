// smoke-session bootstraps a session against the configured backend and
// reports what the store resolved. Exit code 0 means a clean bootstrap,
// 1 a failure to reach Ready, 2 a degraded (timed out or profileless)
// session.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"parishly.org/internal/config"
	"parishly.org/internal/gateway"
	"parishly.org/internal/obs"
	"parishly.org/internal/session"
)

func main() {
	obs.Init("smoke")

	cfg, err := config.Load(os.Getenv("PARISHLY_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	gw, err := gateway.New(cfg.Backend.URL, cfg.Backend.APIKey, cfg.Backend.HTTPTimeout)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	store := session.NewStore(gw, session.Config{
		BootstrapTimeout: cfg.Session.BootstrapTimeout,
		LookupRetries:    cfg.Session.LookupRetries,
		LookupRetryDelay: cfg.Session.LookupRetryDelay,
		RequireProfile:   cfg.Session.RequireProfile,
		IsTransient:      gateway.IsTransient,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Session.BootstrapTimeout+5*time.Second)
	defer cancel()
	go store.Run(ctx)

	started := time.Now()
	if err := store.AwaitReady(ctx); err != nil {
		log.Fatalf("bootstrap never reached Ready: %v", err)
	}
	elapsed := time.Since(started)

	snap := store.Current()
	switch {
	case !snap.SignedIn():
		fmt.Printf("ready in %s: signed out\n", elapsed.Round(time.Millisecond))
	case snap.Profile == nil:
		fmt.Printf("ready in %s: %s, profile unresolved\n", elapsed.Round(time.Millisecond), snap.Identity.Email)
		os.Exit(2)
	default:
		fmt.Printf("✅ ready in %s: %s (%s) role=%s\n",
			elapsed.Round(time.Millisecond), snap.Profile.DisplayName, snap.Identity.Email, snap.Profile.Role)
	}
}
