package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"KisBridge/internal/auth"
	"KisBridge/internal/broker"
	"KisBridge/internal/config"
	"KisBridge/internal/ratelimit"
	"KisBridge/internal/symbols"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] KisBridge starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}

	creds := auth.Credentials{
		AppKey:    cfg.Broker.AppKey,
		AppSecret: cfg.Broker.AppSecret,
		AccountNo: cfg.Broker.AccountNo,
		IsReal:    cfg.Broker.IsReal,
	}
	if creds.IsReal {
		log.Println("[INFO] trading against the real gateway")
	} else {
		log.Println("[INFO] trading against the virtual gateway")
	}

	// Init symbol cache
	var svc *symbols.Service
	if cfg.Symbols.CachePath != "" {
		store, err := symbols.NewStore(cfg.Symbols.CachePath)
		if err != nil {
			log.Printf("[WARN] open symbol cache failed, running without cache: %v", err)
			svc = symbols.NewService(nil)
		} else {
			defer store.Close()
			svc = symbols.NewService(store)
		}
	} else {
		svc = symbols.NewService(nil)
	}

	limiter := ratelimit.New(cfg.RateLimit.MaxCalls, time.Duration(cfg.RateLimit.WindowMS)*time.Millisecond)

	client, err := broker.New(creds, broker.Options{
		ProxyURL: cfg.Proxy,
		Symbols:  svc,
		Limiter:  limiter,
	})
	if err != nil {
		log.Fatalf("[FATAL] init client: %v", err)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init reference-data refresher
	ref := symbols.NewRefresher(ctx, svc, cfg.Symbols.Markets)
	if err := ref.Register(cfg.Symbols.RefreshCron); err != nil {
		log.Fatalf("[FATAL] register refresh task: %v", err)
	}
	ref.Start()
	defer ref.Stop()

	// Optional: warm the symbol maps on start
	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, refreshing symbol masters now")
		go ref.RunNow()
	}

	// Smoke check the gateway with a quote
	if sym := os.Getenv("STARTUP_QUOTE"); sym != "" {
		price, err := client.Price(ctx, "KR", sym)
		if err != nil {
			log.Printf("[WARN] startup quote %s: %v", sym, err)
		} else {
			log.Printf("[INFO] startup quote %s = %s", sym, price)
		}
	}

	log.Println("[INFO] KisBridge is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	log.Println("[INFO] KisBridge stopped")
}
