package deps_test

import (
	"testing"

	"conveyor/internal/config"
	"conveyor/internal/deps"
)

func TestForConfig(t *testing.T) {
	cfg := config.Default()
	reqs := deps.ForConfig(&cfg)
	if len(reqs) != 1 || reqs[0].Name != "transcoder" {
		t.Fatalf("requirements = %+v", reqs)
	}

	cfg.Transcription.Enabled = true
	reqs = deps.ForConfig(&cfg)
	if len(reqs) != 2 || reqs[1].Name != "transcriber" {
		t.Fatalf("requirements with transcription = %+v", reqs)
	}
}

func TestCheckReportsAvailability(t *testing.T) {
	statuses := deps.Check([]deps.Requirement{
		{Name: "shell", Command: "sh"},
		{Name: "phantom", Command: "definitely-not-a-real-binary"},
		{Name: "blank", Command: "  "},
	})
	if len(statuses) != 3 {
		t.Fatalf("statuses = %+v", statuses)
	}
	if !statuses[0].Available {
		t.Fatalf("sh not found: %+v", statuses[0])
	}
	if statuses[1].Available || statuses[1].Detail == "" {
		t.Fatalf("phantom reported available: %+v", statuses[1])
	}
	if statuses[2].Available || statuses[2].Detail != "command not configured" {
		t.Fatalf("blank command status = %+v", statuses[2])
	}
}

func TestMissingSkipsOptional(t *testing.T) {
	statuses := []deps.Status{
		{Requirement: deps.Requirement{Name: "req"}, Available: false},
		{Requirement: deps.Requirement{Name: "opt", Optional: true}, Available: false},
		{Requirement: deps.Requirement{Name: "ok"}, Available: true},
	}
	missing := deps.Missing(statuses)
	if len(missing) != 1 || missing[0].Name != "req" {
		t.Fatalf("missing = %+v", missing)
	}
}
