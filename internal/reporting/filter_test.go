package reporting

import (
	"context"
	"testing"

	"solana-pool-watch/internal/domain"
)

func TestFilterReporter(t *testing.T) {
	events := []domain.PoolEvent{poolEvent("sig1", 100, 0), poolEvent("sig2", 200, 0), poolEvent("sig2", 200, 1)}

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"accept all", ".", 3},
		{"by slot", ".slot >= 150", 2},
		{"by signature", `.signature == "sig1"`, 1},
		{"by token", `.token0 == "` + key(11).String() + `"`, 1},
		{"null rejects", ".missing", 0},
		{"select", `select(.pair_index == 1)`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := &recorder{name: "next"}
			f, err := NewFilterReporter(tt.query, next)
			if err != nil {
				t.Fatalf("NewFilterReporter: %v", err)
			}
			if err := f.Report(context.Background(), events); err != nil {
				t.Fatalf("Report: %v", err)
			}
			if got := next.count(); got != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, got)
			}
			if tt.want == 0 && len(next.batches) != 0 {
				t.Error("empty batch forwarded")
			}
		})
	}
}

func TestFilterReporter_InvalidQuery(t *testing.T) {
	if _, err := NewFilterReporter(".slot >", &recorder{}); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := NewFilterReporter("undefined_fn(1)", &recorder{}); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestFilterReporter_RuntimeError(t *testing.T) {
	f, err := NewFilterReporter(`error("boom")`, &recorder{})
	if err != nil {
		t.Fatalf("NewFilterReporter: %v", err)
	}
	if err := f.Report(context.Background(), []domain.PoolEvent{poolEvent("sig1", 1, 0)}); err == nil {
		t.Fatal("expected runtime error")
	}
}

func TestFilterReporter_KeepsSinkName(t *testing.T) {
	f, err := NewFilterReporter(".", &recorder{name: "nats"})
	if err != nil {
		t.Fatal(err)
	}
	if f.Name() != "nats" {
		t.Errorf("expected nats, got %s", f.Name())
	}
}
