// Command invoiceflow runs the invoice processing service, or a self
// contained demo of the pipeline with -demo.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clearledger-ai/invoiceflow"
	"github.com/clearledger-ai/invoiceflow/capabilities"
	"github.com/clearledger-ai/invoiceflow/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	demo := flag.Bool("demo", false, "run the built-in pipeline demo and exit")
	flag.Parse()

	cfg, err := invoiceflow.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invoiceflow: %v\n", err)
		os.Exit(1)
	}

	if *demo {
		if err := runDemo(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "invoiceflow: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := serve(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invoiceflow: %v\n", err)
		os.Exit(1)
	}
}

func serve(cfg invoiceflow.Config) error {
	logger := invoiceflow.LoggerFromConfig(cfg.Logging)

	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	registry, err := invoiceflow.NewInvoicePipeline(capabilities.NewFixtureToolset(), cfg.Pipeline)
	if err != nil {
		return err
	}
	engine, err := invoiceflow.NewEngine(invoiceflow.EngineOptions{
		Registry:      registry,
		Store:         store,
		Logger:        logger,
		RetryBaseWait: time.Duration(cfg.Retry.BaseWait),
		RetryMaxWait:  time.Duration(cfg.Retry.MaxWait),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pick up threads left mid-flight by a previous process.
	recovered, err := engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover threads: %w", err)
	}
	if recovered > 0 {
		logger.Info("recovered threads from checkpoints", "count", recovered)
	}

	api, err := server.New(server.Options{Engine: engine, Logger: logger})
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

// runDemo drives two invoices through an in-memory engine: one that
// matches cleanly and auto-approves, and one that pauses for review and
// is accepted by a demo reviewer.
func runDemo(cfg invoiceflow.Config) error {
	logger := invoiceflow.NewLogger()

	registry, err := invoiceflow.NewInvoicePipeline(capabilities.NewFixtureToolset(), cfg.Pipeline)
	if err != nil {
		return err
	}
	engine, err := invoiceflow.NewEngine(invoiceflow.EngineOptions{
		Registry:      registry,
		Logger:        logger,
		Formatter:     invoiceflow.NewConsoleFormatter(),
		RetryBaseWait: 100 * time.Millisecond,
	})
	if err != nil {
		return err
	}
	ctx := context.Background()

	fmt.Println("=== clean match, auto approved ===")
	clean, err := engine.Create(ctx, map[string]any{
		"invoice_payload": map[string]any{"invoice_id": "INV-1001", "artifact_ref": "INV-1001"},
	})
	if err != nil {
		return err
	}
	if err := engine.Run(ctx, clean.ID); err != nil {
		return err
	}
	printOutcome(ctx, engine, clean.ID)

	fmt.Println("\n=== low match score, human review ===")
	review, err := engine.Create(ctx, map[string]any{
		"invoice_payload": map[string]any{"invoice_id": "INV-2002", "artifact_ref": "INV-2002"},
	})
	if err != nil {
		return err
	}
	if err := engine.Run(ctx, review.ID); err != nil {
		return err
	}

	paused, err := engine.Status(ctx, review.ID)
	if err != nil {
		return err
	}
	if paused.PendingReview != nil {
		fmt.Printf("paused: %s\n", paused.PendingReview.Reason)
		err = engine.Resume(ctx, review.ID, invoiceflow.Decision{
			Decision:   invoiceflow.DecisionAccept,
			ReviewerID: "demo-reviewer",
			Notes:      "verified against the purchase order by hand",
		})
		if err != nil {
			return err
		}
	}
	printOutcome(ctx, engine, review.ID)
	return nil
}

func printOutcome(ctx context.Context, engine *invoiceflow.Engine, threadID string) {
	thread, err := engine.Status(ctx, threadID)
	if err != nil {
		fmt.Printf("status unavailable: %v\n", err)
		return
	}
	fmt.Printf("thread %s finished as %s\n", thread.ID, thread.Status)
	if final, ok := thread.Payload["final_payload"].(map[string]any); ok {
		for _, key := range []string{"invoice_id", "vendor", "match_score", "human_decision", "posted", "erp_txn_id"} {
			fmt.Printf("  %s = %v\n", key, final[key])
		}
	}
}
