package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/V4T54L/fuel-importer/internal/adapter/repository/journal"
	"github.com/V4T54L/fuel-importer/internal/pkg/logger"
)

func main() {
	dir := flag.String("dir", "./data/journal", "Journal directory")
	n := flag.Int("n", 20, "Number of reports to print, newest first")
	failed := flag.Bool("failed", false, "Only print failed runs")
	truncate := flag.Bool("truncate", false, "Delete all journal segments")
	flag.Parse()

	log := logger.New("warn")
	j, err := journal.New(*dir, 1<<62, 0, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open journal: %v\n", err)
		os.Exit(1)
	}
	defer j.Close()

	ctx := context.Background()
	if *truncate {
		if err := j.Truncate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to truncate journal: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("journal truncated")
		return
	}

	reports, err := j.Recent(ctx, *n, *failed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read journal: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, r := range reports {
		if err := enc.Encode(r); err != nil {
			fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
			os.Exit(1)
		}
	}
}
