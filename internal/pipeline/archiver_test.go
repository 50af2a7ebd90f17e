package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/matrixnet/internal/service"
)

func TestCronNext(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 7, 30, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2026, 3, 14, 10, 8, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 3, 14, 10, 15, 0, 0, time.UTC)},
		{"30 9-11 * * *", time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)},
		{"0 0 * * 1", time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC)},
		{"5,10 10 14 3 *", time.Date(2026, 3, 14, 10, 10, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			cron, err := parseCron(tc.expr)
			require.NoError(t, err)
			got, err := cron.next(base)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCronRejectsInvalid(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"* * 0 * *",
	} {
		_, err := parseCron(expr)
		assert.Error(t, err, "expr %q", expr)
	}
}

type stubArchiver struct {
	ledger, instances int64
	err               error
	cutoffs           []time.Time
}

func (s *stubArchiver) ArchiveLedger(_ context.Context, before time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, before)
	return s.ledger, s.err
}

func (s *stubArchiver) ArchiveInstances(_ context.Context, before time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, before)
	return s.instances, nil
}

func TestArchiverRun(t *testing.T) {
	stub := &stubArchiver{ledger: 7, instances: 2}
	a := NewArchiver(stub, 30, nil, quietLogger())

	rep, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), rep.Ledger)
	assert.Equal(t, int64(2), rep.Instances)
	require.Len(t, stub.cutoffs, 2)
	assert.WithinDuration(t, time.Now().UTC().Add(-30*24*time.Hour), stub.cutoffs[0], time.Minute)

	stub.err = errors.New("boom")
	_, err = a.Run(context.Background())
	assert.ErrorContains(t, err, "boom")
}

type countingReplayer struct {
	calls chan int
}

func (r *countingReplayer) ReplayPending(_ context.Context, limit int) (service.ReplayReport, error) {
	select {
	case r.calls <- limit:
	default:
	}
	return service.ReplayReport{}, nil
}

func TestOrchestratorRunsReplayAndStopsCleanly(t *testing.T) {
	replayer := &countingReplayer{calls: make(chan int, 1)}
	o := NewOrchestrator(nil, replayer, nil, OrchestratorConfig{ReplayBatch: 25}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case limit := <-replayer.calls:
		assert.Equal(t, 25, limit)
	case <-time.After(time.Second):
		t.Fatal("replay sweep never ran")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop")
	}
}
