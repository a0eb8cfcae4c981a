package logrelay

import (
	"context"
	"errors"
	"jobexecutor/internal/job"
	"jobexecutor/internal/logsink"
	"testing"
)

type fakeOrch struct {
	job.Orchestrator // unused methods panic

	unit     *job.UnitRef
	unitErr  error
	outputs  []string
	fetchErr error
	since    []int
}

func (f *fakeOrch) FindRunUnit(context.Context, job.RunIdentity) (*job.UnitRef, error) {
	return f.unit, f.unitErr
}

func (f *fakeOrch) FetchOutput(_ context.Context, _ job.RunIdentity, _ job.UnitRef, since int) (string, error) {
	f.since = append(f.since, since)
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	if len(f.outputs) == 0 {
		return "", nil
	}
	out := f.outputs[0]
	f.outputs = f.outputs[1:]
	return out, nil
}

func testID() job.RunIdentity {
	return job.RunIdentity{Name: "job-1-1", Namespace: "default", JobID: 1}
}

func TestRelay_OverlappingWindowsForwardOnce(t *testing.T) {
	t.Parallel()
	orch := &fakeOrch{
		unit:    &job.UnitRef{Name: "pod-a", Phase: job.UnitRunning},
		outputs: []string{"a\nb\nL\n", "L\nc\n"},
	}
	sink := logsink.NewMemorySink(nil)
	r := New(orch, testID(), sink, 5, Config{}, nil)

	r.Pull(context.Background())
	r.Pull(context.Background())

	got := sink.Lines(5)
	want := []string{"[K8s] a", "[K8s] b", "[K8s] L", "[K8s] c"}
	if len(got) != len(want) {
		t.Fatalf("Lines = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Lines[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if s := r.Stats(); s.Forwarded != 4 || s.Suppressed != 1 {
		t.Errorf("Stats = %+v", s)
	}
	for _, since := range orch.since {
		if since != DefaultOverlapSeconds {
			t.Errorf("FetchOutput since = %d, want %d", since, DefaultOverlapSeconds)
		}
	}
}

func TestRelay_SkipsUnitsWithoutOutput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		unit *job.UnitRef
	}{
		{"no unit", nil},
		{"pending", &job.UnitRef{Name: "p", Phase: job.UnitPending}},
		{"no phase", &job.UnitRef{Name: "p", Phase: job.UnitUnknown}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			orch := &fakeOrch{unit: tt.unit, outputs: []string{"x"}}
			r := New(orch, testID(), logsink.NewMemorySink(nil), 1, Config{}, nil)

			if got := r.Pull(context.Background()); len(got) != 0 {
				t.Errorf("Pull() = %v, want nothing", got)
			}
			if len(orch.since) != 0 {
				t.Error("FetchOutput should not be called")
			}
			if r.Stats().Errors != 0 {
				t.Error("skipping a unit is not an error")
			}
		})
	}
}

func TestRelay_ErrorsAreSwallowed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		orch *fakeOrch
	}{
		{"find fails", &fakeOrch{unitErr: errors.New("boom")}},
		{"fetch fails", &fakeOrch{unit: &job.UnitRef{Name: "p", Phase: job.UnitFailed}, fetchErr: errors.New("boom")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := New(tt.orch, testID(), logsink.NewMemorySink(nil), 1, Config{}, nil)
			if got := r.Pull(context.Background()); got != nil {
				t.Errorf("Pull() = %v, want nil", got)
			}
			if r.Stats().Errors != 1 {
				t.Errorf("Errors = %d, want 1", r.Stats().Errors)
			}
		})
	}
}

func TestRelay_BlankLinesAndPrefix(t *testing.T) {
	t.Parallel()
	sink := logsink.NewMemorySink(nil)
	r := New(&fakeOrch{}, testID(), sink, 3, Config{Prefix: "[Docker] "}, nil)

	r.Forward("first\r\n\n   \nsecond")

	got := sink.Lines(3)
	if len(got) != 2 || got[0] != "[Docker] first" || got[1] != "[Docker] second" {
		t.Errorf("Lines = %q", got)
	}
}

func TestRelay_DedupIsBounded(t *testing.T) {
	t.Parallel()
	sink := logsink.NewMemorySink(nil)
	r := New(&fakeOrch{}, testID(), sink, 1, Config{DedupSize: 2}, nil)

	r.Forward("a\nb\nc") // a evicted
	r.Forward("a\nc")    // a forwarded again, c suppressed

	if got := len(sink.Lines(1)); got != 4 {
		t.Errorf("Forwarded %d lines, want 4", got)
	}
}

func TestRelay_IdenticalLinesSuppressedUntilEvicted(t *testing.T) {
	t.Parallel()
	sink := logsink.NewMemorySink(nil)
	r := New(&fakeOrch{}, testID(), sink, 1, Config{DedupSize: 3, Prefix: "-"}, nil)

	r.Forward("alive\nstep 1\nalive") // second alive suppressed
	r.Forward("alive\nstep 2")         // still remembered
	r.Forward("step 3\nalive")         // alive evicted by step 3, forwarded again

	got := sink.Lines(1)
	want := []string{"-alive", "-step 1", "-step 2", "-step 3", "-alive"}
	if len(got) != len(want) {
		t.Fatalf("Lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Lines[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if s := r.Stats(); s.Suppressed != 2 {
		t.Errorf("Suppressed = %d, want 2", s.Suppressed)
	}
}

func TestFingerprintSet(t *testing.T) {
	t.Parallel()
	s := newFingerprintSet(3)

	for _, fp := range []uint64{1, 2, 3} {
		if !s.add(fp) {
			t.Fatalf("add(%d) should be new", fp)
		}
	}
	if s.add(2) {
		t.Error("add(2) should be a duplicate")
	}
	s.add(4)
	if s.contains(1) {
		t.Error("oldest entry should be evicted")
	}
	if !s.contains(2) || !s.contains(3) || !s.contains(4) {
		t.Error("newer entries should remain")
	}
	if s.len() != 3 {
		t.Errorf("len() = %d, want 3", s.len())
	}
}
