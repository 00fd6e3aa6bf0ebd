package reporting

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/storage"
	"github.com/nice-bills/chain-segment/internal/storage/memory"
)

const (
	addrA = domain.WalletAddress("0x00000000000000000000000000000000000000aa")
	addrB = domain.WalletAddress("0x00000000000000000000000000000000000000bb")
)

func setupTestSink(t *testing.T) *memory.ResultSink {
	ctx := context.Background()
	sink := memory.NewResultSink()

	version := strings.Repeat("cd", 32)
	records := []*storage.PersonaResultRecord{
		{JobID: "j1", Address: addrA, Persona: "Shrimp", ClusterIndex: 3, Confidence: 0.61, AccountKind: domain.AccountEOA, ModelVersion: version, CompletedAt: 1000},
		{JobID: "j2", Address: addrA, Persona: "Whale", ClusterIndex: 1, Confidence: 0.72, AccountKind: domain.AccountEOA, ModelVersion: version, CompletedAt: 2000},
		{JobID: "j3", Address: addrB, Persona: "Whale", ClusterIndex: 1, Confidence: 0.90, AccountKind: domain.AccountContract, ModelVersion: version, CompletedAt: 1500},
		{JobID: "j4", Address: addrB, Persona: "Whale", ClusterIndex: 1, Confidence: 0.88, AccountKind: domain.AccountContract, ModelVersion: version, CompletedAt: 2500},
	}
	for _, r := range records {
		if err := sink.Insert(ctx, r); err != nil {
			t.Fatalf("Insert result failed: %v", err)
		}
	}
	return sink
}

func fixedClock() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestGenerate_Distribution(t *testing.T) {
	gen := NewGenerator(setupTestSink(t)).WithClock(fixedClock)

	r, err := gen.Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !r.GeneratedAt.Equal(fixedClock()) {
		t.Errorf("GeneratedAt = %v, want %v", r.GeneratedAt, fixedClock())
	}
	if r.TotalResults != 4 {
		t.Errorf("TotalResults = %d, want 4", r.TotalResults)
	}
	if len(r.Distribution) != 2 {
		t.Fatalf("Distribution rows = %d, want 2", len(r.Distribution))
	}
	if r.Distribution[0].Persona != "Whale" || r.Distribution[0].Count != 3 {
		t.Errorf("first row = %+v, want Whale x3", r.Distribution[0])
	}
	if r.Distribution[1].Share != 0.25 {
		t.Errorf("Shrimp share = %f, want 0.25", r.Distribution[1].Share)
	}
	if len(r.History) != 0 || len(r.Changes) != 0 {
		t.Errorf("no addresses requested, got history=%d changes=%d", len(r.History), len(r.Changes))
	}
}

func TestGenerate_HistoryAndChanges(t *testing.T) {
	gen := NewGenerator(setupTestSink(t)).WithClock(fixedClock)

	// Duplicates and order of the arguments do not matter.
	r, err := gen.Generate(context.Background(), addrB, addrA, addrB)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(r.Addresses) != 2 || r.Addresses[0] != addrA {
		t.Errorf("Addresses = %v, want [%s %s]", r.Addresses, addrA, addrB)
	}
	if len(r.History) != 4 {
		t.Fatalf("History rows = %d, want 4", len(r.History))
	}
	wantJobs := []string{"j1", "j2", "j3", "j4"}
	for i, h := range r.History {
		if h.JobID != wantJobs[i] {
			t.Errorf("History[%d].JobID = %s, want %s", i, h.JobID, wantJobs[i])
		}
		if len(h.ModelVersion) != 12 {
			t.Errorf("History[%d].ModelVersion = %q, want short form", i, h.ModelVersion)
		}
	}

	if len(r.Changes) != 1 {
		t.Fatalf("Changes = %d, want 1", len(r.Changes))
	}
	c := r.Changes[0]
	if c.Address != addrA || c.FirstPersona != "Shrimp" || c.LastPersona != "Whale" || c.Runs != 2 {
		t.Errorf("change = %+v", c)
	}
}

func TestGenerate_EmptySink(t *testing.T) {
	r, err := NewGenerator(memory.NewResultSink()).Generate(context.Background(), addrA)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if r.TotalResults != 0 || len(r.Distribution) != 0 || len(r.History) != 0 {
		t.Errorf("expected empty report, got %+v", r)
	}

	md := RenderMarkdown(r)
	if !strings.Contains(md, "No results stored.") {
		t.Error("markdown should note the empty sink")
	}
	if !strings.Contains(md, "No results for the requested addresses.") {
		t.Error("markdown should note the missing address history")
	}
}

func TestRenderMarkdown(t *testing.T) {
	r, err := NewGenerator(setupTestSink(t)).WithClock(fixedClock).Generate(context.Background(), addrA)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	md := RenderMarkdown(r)

	for _, want := range []string{
		"# Persona Report",
		"Generated: 2026-01-02T03:04:05Z",
		"| Whale | 3 | 75.00% |",
		"| Shrimp | 1 | 25.00% |",
		"## Address History",
		"| " + string(addrA) + " | j1 | Shrimp | 3 | 0.6100 | eoa | cdcdcdcdcdcd | 1970-01-01T00:00:01Z |",
		"| " + string(addrA) + " | Shrimp | Whale | 2 |",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q\n%s", want, md)
		}
	}
}

func TestRenderMarkdown_NoAddresses(t *testing.T) {
	r, err := NewGenerator(setupTestSink(t)).Generate(context.Background())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if strings.Contains(RenderMarkdown(r), "## Address History") {
		t.Error("address sections should be omitted when no addresses were requested")
	}
}

func TestRenderCSV(t *testing.T) {
	r, err := NewGenerator(setupTestSink(t)).Generate(context.Background(), addrB)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(RenderCSV(r.Distribution)), "\n")
	if len(lines) != 3 {
		t.Fatalf("distribution csv lines = %d, want 3", len(lines))
	}
	if lines[0] != "persona,count,share" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "Whale,3,0.750000" {
		t.Errorf("first row = %q", lines[1])
	}

	lines = strings.Split(strings.TrimSpace(RenderHistoryCSV(r.History)), "\n")
	if len(lines) != 3 {
		t.Fatalf("history csv lines = %d, want 3", len(lines))
	}
	if !strings.HasPrefix(lines[1], string(addrB)+",j3,Whale,1,0.900000,contract,") {
		t.Errorf("history row = %q", lines[1])
	}
}
