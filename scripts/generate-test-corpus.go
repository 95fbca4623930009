//go:build ignore

// Generates a synthetic mixed corpus (Go sources, markdown docs, config
// files) for exercising indexing and retrieval on a project of controlled
// size.
//
// Usage: go run scripts/generate-test-corpus.go -files 500 -output testdata/corpus
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numFiles  = flag.Int("files", 500, "number of files to generate")
	outputDir = flag.String("output", "testdata/corpus", "output directory")
	seed      = flag.Int64("seed", 42, "random seed, fixed for reproducible corpora")
)

var services = []string{
	"billing", "ledger", "inventory", "checkout", "shipping",
	"catalog", "accounts", "notifications", "reporting", "audit",
}

var verbs = []string{
	"settles", "reconciles", "validates", "publishes", "archives",
	"replays", "aggregates", "schedules", "retries", "throttles",
}

var nouns = []string{
	"invoices", "shipments", "refunds", "orders", "events",
	"snapshots", "receipts", "quotas", "batches", "alerts",
}

const goTemplate = `package %[1]s

import (
	"context"
	"time"
)

// %[2]s %[3]s %[4]s on a fixed schedule.
type %[2]s struct {
	interval time.Duration
}

// New%[2]s returns a %[2]s with the default interval.
func New%[2]s() *%[2]s {
	return &%[2]s{interval: time.Minute}
}

// Run %[3]s %[4]s until the context is cancelled.
func (w *%[2]s) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.step(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *%[2]s) step(ctx context.Context) error {
	_ = ctx
	return nil
}
`

const docTemplate = `# %s

The %s service %s %s.

## Behavior

%s

## Failure handling

Failed attempts retry with exponential backoff. State lives in the %s
store; restarts resume from the last committed batch.
`

const yamlTemplate = `service: %s
interval: 60s
retries:
  max_attempts: 5
  backoff: exponential
`

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	for i := 0; i < *numFiles; i++ {
		svc := services[rng.Intn(len(services))]
		verb := verbs[rng.Intn(len(verbs))]
		noun := nouns[rng.Intn(len(nouns))]
		worker := strings.Title(svc) + "Worker"

		var rel, content string
		switch i % 4 {
		case 0:
			rel = filepath.Join(svc, fmt.Sprintf("worker_%03d.go", i))
			content = fmt.Sprintf(goTemplate, svc, worker, verb, noun)
		case 1, 2:
			rel = filepath.Join("docs", svc, fmt.Sprintf("%s_%03d.md", noun, i))
			content = fmt.Sprintf(docTemplate,
				strings.Title(svc), svc, verb, noun, paragraph(rng), svc)
		default:
			rel = filepath.Join("configs", fmt.Sprintf("%s_%03d.yaml", svc, i))
			content = fmt.Sprintf(yamlTemplate, svc)
		}

		path := filepath.Join(*outputDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	fmt.Printf("wrote %d files under %s\n", *numFiles, *outputDir)
}

func paragraph(rng *rand.Rand) string {
	var b strings.Builder
	for s := 0; s < 4; s++ {
		svc := services[rng.Intn(len(services))]
		verb := verbs[rng.Intn(len(verbs))]
		noun := nouns[rng.Intn(len(nouns))]
		fmt.Fprintf(&b, "The %s pipeline %s %s nightly. ", svc, verb, noun)
	}
	return strings.TrimSpace(b.String())
}
