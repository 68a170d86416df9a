package symbols

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Refresher re-downloads the master files on a cron schedule so a long-lived
// process does not serve week-old reference data.
type Refresher struct {
	Cron    *cron.Cron
	Service *Service
	Markets []string
	Ctx     context.Context
}

// NewRefresher creates a refresher for the given markets.
func NewRefresher(ctx context.Context, svc *Service, markets []string) *Refresher {
	return &Refresher{
		Cron:    cron.New(cron.WithSeconds()),
		Service: svc,
		Markets: markets,
		Ctx:     ctx,
	}
}

// Register schedules the refresh task.
func (r *Refresher) Register(spec string) error {
	if _, err := r.Cron.AddFunc(spec, r.refreshTask); err != nil {
		return fmt.Errorf("register symbol refresh: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (r *Refresher) Start() {
	r.Cron.Start()
	log.Println("[INFO] symbol refresher started")
}

// Stop stops the cron scheduler gracefully.
func (r *Refresher) Stop() {
	r.Cron.Stop()
	log.Println("[INFO] symbol refresher stopped")
}

// RunNow executes the refresh task immediately (for manual trigger).
func (r *Refresher) RunNow() {
	r.refreshTask()
}

func (r *Refresher) refreshTask() {
	log.Println("[INFO] refreshing symbol master data")
	for _, market := range r.Markets {
		if err := r.Service.Reload(r.Ctx, market); err != nil {
			log.Printf("[ERROR] refresh %s symbols: %v", market, err)
		}
	}
}
