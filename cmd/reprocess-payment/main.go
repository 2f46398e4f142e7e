package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/feupam/feupam-checkout/internal/client"
	"github.com/feupam/feupam-checkout/internal/service"
	"github.com/feupam/feupam-checkout/pkg/logger"
	"github.com/feupam/feupam-checkout/pkg/retry"
	"go.uber.org/zap"
)

// Options holds the command line flags
type Options struct {
	BaseURL  string
	Token    string
	Email    string
	EventID  string
	ChargeID string
	Retries  int
	Timeout  time.Duration
}

func main() {
	opts := Options{}
	flag.StringVar(&opts.BaseURL, "base-url", os.Getenv("BACKEND_BASE_URL"), "Backend API base URL")
	flag.StringVar(&opts.Token, "token", os.Getenv("ADMIN_TOKEN"), "Admin bearer token")
	flag.StringVar(&opts.Email, "email", "", "Customer email")
	flag.StringVar(&opts.EventID, "event", "", "Event ID")
	flag.StringVar(&opts.ChargeID, "charge", "", "Charge ID (optional)")
	flag.IntVar(&opts.Retries, "retries", 3, "Retries of connectivity failures")
	flag.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "Per-call timeout")
	flag.Parse()

	if err := logger.Init(&logger.Config{Level: "info", ServiceName: "reprocess-payment", Development: true}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(context.Background(), opts); err != nil {
		logger.Get().Error("reprocess failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts Options) error {
	if opts.BaseURL == "" {
		return fmt.Errorf("-base-url or BACKEND_BASE_URL is required")
	}

	api, err := client.New(&client.Config{
		BaseURL:        opts.BaseURL,
		DefaultTimeout: opts.Timeout,
		ReadTimeout:    opts.Timeout,
		WriteTimeout:   opts.Timeout,
		Tokens:         client.StaticTokenSource(opts.Token),
		Logger:         logger.Get(),
	})
	if err != nil {
		return err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = opts.Retries
	admin := service.NewAdminService(api, retryCfg)

	result, err := admin.ReprocessPayment(ctx, client.ReprocessRequest{
		Email:    opts.Email,
		EventID:  opts.EventID,
		ChargeID: opts.ChargeID,
	})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
