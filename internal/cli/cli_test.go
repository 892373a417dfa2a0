package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/triage/internal/bootstrap"
	"github.com/OFFIS-RIT/triage/internal/config"
	"github.com/OFFIS-RIT/triage/internal/tickets"
	"github.com/OFFIS-RIT/triage/pkg/ai/aitest"
)

func setupTestServices(t *testing.T) *bootstrap.Services {
	t.Helper()
	cfg := config.Default()
	cfg.AI.ChatModel = "chat"
	cfg.AI.EmbedModel = "embed"
	cfg.AI.ChatKey = "key"
	client := aitest.New(16)
	client.Responses = map[string][]string{
		"emergency_type":    {`{"emergency_types":["fire"],"confidence_score":0.9,"situation_summary":"Kitchen fire","rationale":"fire mentioned","suggested_actions":["leave the building"]}`},
		"emergency_urgency": {`{"urgency_level":5,"rationale":"people inside","estimated_response_time":"","recommended_actions":["call 193"]}`},
	}
	s, err := bootstrap.OpenWithClient(context.Background(), cfg, client)
	if err != nil {
		t.Fatal(err)
	}

	prev := openServices
	openServices = func(ctx context.Context) (*bootstrap.Services, error) { return s, nil }
	t.Cleanup(func() { openServices = prev })
	return s
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	classifyJSON, classifySeed, classifyStore = false, false, false
	classifyFile = ""
	clearConfirm = false
	ingestCategory = ""

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestIngestAndStats(t *testing.T) {
	setupTestServices(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "defesa-civil.md")
	if err := os.WriteFile(path, []byte("Enchente: ligue 199 para a Defesa Civil."), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "ingest", "--category", "civil", path)
	if err != nil {
		t.Fatalf("ingest error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Ingested 1 documents") {
		t.Fatalf("ingest output = %q", out)
	}

	out, err = run(t, "stats")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Documents:  1") || !strings.Contains(out, "Dimensions: 16") {
		t.Fatalf("stats output = %q", out)
	}
}

func TestIngest_Errors(t *testing.T) {
	setupTestServices(t)

	if _, err := run(t, "ingest"); err == nil || !strings.Contains(err.Error(), "requires at least 1 arg(s)") {
		t.Fatalf("ingest without args error = %v", err)
	}
	if _, err := run(t, "ingest", filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSeed(t *testing.T) {
	s := setupTestServices(t)
	out, err := run(t, "seed")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Seeded 4 protocols") {
		t.Fatalf("seed output = %q", out)
	}
	stats, _ := s.Engine.Stats(context.Background())
	if stats.Documents != 4 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestClassify(t *testing.T) {
	s := setupTestServices(t)

	out, err := run(t, "classify", "--seed", "--store", "Tem", "fogo", "na", "cozinha")
	if err != nil {
		t.Fatalf("classify error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Urgency: 5") {
		t.Fatalf("classify output = %q", out)
	}
	list, err := s.Tickets.List(context.Background(), tickets.ListParams{})
	if err != nil || len(list) != 1 || list[0].Channel != "cli" || list[0].SourceReport != "Tem fogo na cozinha" {
		t.Fatalf("tickets = %+v, err = %v", list, err)
	}

	out, err = run(t, "classify", "--json", "fumaça")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"urgency_level": 5`) {
		t.Fatalf("json output = %q", out)
	}
}

func TestClassify_File(t *testing.T) {
	s := setupTestServices(t)
	path := filepath.Join(t.TempDir(), "reports.txt")
	content := "Tem fogo na cozinha\n\n  Fumaça no prédio  \nIncêndio no mercado\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "classify", "--store", "--file", path)
	if err != nil {
		t.Fatalf("classify --file error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Classified 3 reports") || !strings.Contains(out, "Report 2: Fumaça no prédio") {
		t.Fatalf("classify --file output = %q", out)
	}
	list, err := s.Tickets.List(context.Background(), tickets.ListParams{})
	if err != nil || len(list) != 3 {
		t.Fatalf("tickets = %d, err = %v", len(list), err)
	}

	out, err = run(t, "classify", "--json", "-f", path)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(out, `"urgency_level": 5`); n != 3 {
		t.Fatalf("json output has %d results, want 3: %q", n, out)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"file and text", []string{"classify", "--file", path, "fogo"}},
		{"missing file", []string{"classify", "--file", filepath.Join(t.TempDir(), "none.txt")}},
		{"no text", []string{"classify"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestClear(t *testing.T) {
	setupTestServices(t)
	if out, err := run(t, "seed"); err != nil {
		t.Fatalf("seed error = %v\n%s", err, out)
	}

	if _, err := run(t, "clear"); err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Fatalf("clear without --yes = %v", err)
	}
	out, _ := run(t, "stats")
	if strings.Contains(out, "Documents:  0") {
		t.Fatalf("unconfirmed clear emptied the index: %q", out)
	}

	out, err := run(t, "clear", "--yes")
	if err != nil || !strings.Contains(out, "Removed") {
		t.Fatalf("clear --yes = %q, %v", out, err)
	}
	out, _ = run(t, "stats")
	if !strings.Contains(out, "Documents:  0") || !strings.Contains(out, "Chunks:     0") {
		t.Fatalf("stats after clear = %q", out)
	}
}

func TestOpenServicesError(t *testing.T) {
	prev := openServices
	openServices = func(ctx context.Context) (*bootstrap.Services, error) {
		return nil, errors.New("no config")
	}
	defer func() { openServices = prev }()

	if _, err := run(t, "stats"); err == nil || err.Error() != "no config" {
		t.Fatalf("error = %v", err)
	}
}
