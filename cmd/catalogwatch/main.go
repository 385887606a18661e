package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"catalogwatch/internal/catalog"
	"catalogwatch/internal/config"
	"catalogwatch/internal/ingest"
	"catalogwatch/internal/storage"
	"catalogwatch/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "Path to engine configuration file")
	input := flag.String("input", "-", "Scan input file, or - for stdin")
	retailer := flag.String("retailer", "", "Retailer identifier for this scan")
	category := flag.String("category", "", "Category identifier for this scan")
	scanType := flag.String("scan-type", "monitor", "Scan type: baseline or monitor")
	baseURL := flag.String("base-url", "", "Base URL for resolving relative links (html ingest)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := catalog.BuildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	entries, err := readEntries(*cfg, *input, *baseURL, *retailer, *category)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read scan input: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.DB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	engine, err := catalog.NewEngine(*cfg, store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise engine: %v\n", err)
		os.Exit(1)
	}

	report, err := engine.Scan(ctx, *retailer, *category, types.ScanType(*scanType), entries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		os.Exit(1)
	}
}

func readEntries(cfg config.Config, input, baseURL, retailer, category string) ([]types.CatalogEntry, error) {
	var r io.Reader = os.Stdin
	if input != "-" {
		fh, err := os.Open(input)
		if err != nil {
			return nil, err
		}
		defer fh.Close()
		r = fh
	}
	if cfg.Ingest.Format == "html" {
		return ingest.ExtractHTML(r, baseURL, retailer, category, cfg.Ingest.HTML, cfg.Ingest.MaxEntries)
	}
	return ingest.DecodeFeed(r, cfg.Ingest.MaxEntries)
}
