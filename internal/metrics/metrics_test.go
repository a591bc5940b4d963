package metrics

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestOutput_Merge(t *testing.T) {
	workers := []*Output{
		{ReadAttempts: 10, ReadHits: 4, AddAttempts: 3, AddSuccesses: 3, RemoveAttempts: 2, RemoveHits: 1},
		{ReadAttempts: 5, ReadHits: 5, AddAttempts: 1, RemoveAttempts: 4, RemoveHits: 2},
		nil,
	}

	total := MergeAll(workers)

	if total.ReadAttempts != 15 || total.ReadHits != 9 {
		t.Errorf("reads = %d/%d, want 9/15", total.ReadHits, total.ReadAttempts)
	}
	if total.AddAttempts != 4 || total.AddSuccesses != 3 {
		t.Errorf("adds = %d/%d, want 3/4", total.AddSuccesses, total.AddAttempts)
	}
	if total.RemoveAttempts != 6 || total.RemoveHits != 3 {
		t.Errorf("removes = %d/%d, want 3/6", total.RemoveHits, total.RemoveAttempts)
	}
	if total.Ops() != 25 {
		t.Errorf("Ops() = %d, want 25", total.Ops())
	}
	if workers[0].ReadAttempts != 10 {
		t.Error("MergeAll() must not mutate worker outputs")
	}
}

func TestOutput_Rates(t *testing.T) {
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"read success", (&Output{ReadAttempts: 4, ReadHits: 1}).ReadSuccessRate(), 0.25},
		{"add success", (&Output{AddAttempts: 2, AddSuccesses: 2}).AddSuccessRate(), 1},
		{"remove success", (&Output{RemoveAttempts: 0}).RemoveSuccessRate(), 0},
		{"read percent", (&Output{ReadAttempts: 9, AddAttempts: 1}).ReadPercent(), 90},
		{"remove percent", (&Output{}).RemovePercent(), 0},
		{"occupancy", Occupancy(3, 4), 0.75},
		{"load ratio", LoadRatio(10, 0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if math.Abs(tt.got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestThroughput(t *testing.T) {
	if got := Throughput(100, 2*time.Second); got != 50 {
		t.Errorf("Throughput() = %v, want 50", got)
	}
	if got := Throughput(100, 0); got != 0 {
		t.Errorf("Throughput() with zero elapsed = %v, want 0", got)
	}
}

func TestReporter_Lines(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf)

	r.Int("targetcnt", 1000)
	r.Float("throughput", 1234.5678)
	r.String("algo", "memory")
	r.Bool("rtt", true)
	r.Seconds("time", 1500*time.Millisecond)

	want := "targetcnt:1000\nthroughput:1234.568\nalgo:memory\nrtt:1\ntime:1.500\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
	if err := r.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
}

func TestReporter_Results(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf)

	r.Results(&Output{
		InitialCount:   10,
		FinalCount:     8,
		Elapsed:        time.Second,
		ReadAttempts:   90,
		ReadHits:       45,
		AddAttempts:    5,
		RemoveAttempts: 5,
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	got := make(map[string]string, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			t.Fatalf("malformed line %q", line)
		}
		got[name] = value
	}

	checks := map[string]string{
		"initial_count":    "10",
		"final_count":      "8",
		"read_successrate": "0.500",
		"ops":              "100",
		"actual_pcntreads": "90.000",
		"throughput":       "100.000",
	}
	for name, want := range checks {
		if got[name] != want {
			t.Errorf("%s = %q, want %q", name, got[name], want)
		}
	}
}

type failingWriter struct{ calls int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.calls++
	return 0, errors.New("disk full")
}

func TestReporter_KeepsFirstError(t *testing.T) {
	w := &failingWriter{}
	r := NewReporter(w)

	r.Int("a", 1)
	r.Int("b", 2)

	if r.Err() == nil {
		t.Fatal("Err() = nil, want write error")
	}
	if w.calls != 1 {
		t.Errorf("writer called %d times, want 1", w.calls)
	}
}
