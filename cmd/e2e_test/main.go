// Command e2e_test runs one document through a live DocuSense stack:
// create a collection, upload a file, wait for the ingestion job, and
// ask a question. It needs a reachable Postgres with pgvector and an
// embedding/chat provider.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/docusense/docusense"
	"github.com/docusense/docusense/store"
)

func main() {
	file := flag.String("file", "", "Document to ingest (pdf, markdown or text)")
	question := flag.String("question", "What is this document about?", "Question to ask after ingestion")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	_ = godotenv.Load()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: e2e_test -file <document> [-question <text>]")
		os.Exit(1)
	}

	cfg := docusense.DefaultConfig()
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		cfg.Chat.BaseURL = v
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("CHAT_MODEL"); v != "" {
		cfg.Chat.Model = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	svc, err := docusense.New(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting service: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Collection
	name := fmt.Sprintf("e2e-%d", time.Now().Unix())
	col, err := svc.CreateCollection(ctx, name, "end-to-end test run")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating collection: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "\n=== INGESTING %s into %s ===\n", *file, name)

	// Upload
	f, err := os.Open(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening document: %v\n", err)
		os.Exit(1)
	}
	receipt, err := svc.IngestUpload(ctx, col.ID, filepath.Base(*file), f)
	f.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "upload error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "queued job %s\n", receipt.JobID)

	// Wait for the job to finish.
	job, err := waitForJob(ctx, svc, receipt.JobID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "waiting for job: %v\n", err)
		os.Exit(1)
	}
	if job.Status != store.JobCompleted {
		fmt.Fprintf(os.Stderr, "job %s ended %s: %s\n", job.ID, job.Status, job.ErrorMessage)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "job completed\n")

	// Ask
	fmt.Fprintf(os.Stderr, "\n=== QUERYING: %s ===\n", *question)
	resp, err := svc.Ask(ctx, docusense.AskRequest{
		Question:     *question,
		CollectionID: col.ID,
		UseHybrid:    true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "query error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "\n=== ANSWER (confidence %.2f, %dms) ===\n%s\n",
		resp.Confidence, resp.LatencyMS, resp.Answer)

	out, _ := json.MarshalIndent(resp.Citations, "", "  ")
	fmt.Println(string(out))
}

// waitForJob polls the job record until it reaches a terminal state.
func waitForJob(ctx context.Context, svc docusense.Service, jobID string) (*store.IngestJob, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			job, err := svc.JobStatus(ctx, jobID)
			if err != nil {
				return nil, err
			}
			if job.Status == store.JobCompleted || job.Status == store.JobFailed {
				return job, nil
			}
			fmt.Fprintf(os.Stderr, "  %s %d%%\n", job.Status, job.Progress)
		}
	}
}
