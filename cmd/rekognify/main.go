// Command rekognify uploads one image to the recognition backend and prints
// the labels it was given.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/rekognify/internal/httpclient"
	"github.com/example/rekognify/internal/logging"
	"github.com/example/rekognify/internal/poller"
	"github.com/example/rekognify/internal/recognition"
	"github.com/example/rekognify/internal/upload"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "rekognify:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("rekognify", flag.ContinueOnError)
	apiURL := fs.String("api", os.Getenv("API_BASE_URL"), "recognition API base url")
	timeout := fs.Duration("timeout", 2*time.Minute, "overall deadline for upload and classification")
	logLevel := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: rekognify -api URL [-timeout 2m] path/to/image")
	}

	logger, err := logging.NewLogger(*logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	labels, err := classify(ctx, *apiURL, fs.Arg(0), logger)
	if err != nil {
		return err
	}
	return printLabels(out, labels)
}

func classify(ctx context.Context, apiURL, path string, logger *zap.Logger) ([]recognition.Label, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	backend, err := httpclient.New(apiURL, 30*time.Second, logger)
	if err != nil {
		return nil, err
	}

	cred, err := upload.NewCoordinator(backend, backend, 0, logger).Upload(ctx, filepath.Base(path), payload, "")
	if err != nil {
		return nil, err
	}

	info, err := poller.New(backend, poller.DefaultPolicy(), logger).Fetch(ctx, cred.ID)
	if err != nil {
		return nil, err
	}
	return info.Labels, nil
}

func printLabels(out io.Writer, labels []recognition.Label) error {
	if len(labels) == 0 {
		_, err := fmt.Fprintln(out, "no labels")
		return err
	}
	for _, label := range labels {
		if _, err := fmt.Fprintf(out, "%s (%s) %.1f%%\n", label.Name, label.Category, label.Confidence); err != nil {
			return err
		}
	}
	return nil
}
