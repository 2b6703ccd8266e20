package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatherstone/venuescout/internal/model"
)

// fakeStage records its invocation order on a shared log.
type fakeStage struct {
	name string
	err  error
	log  *[]string
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Run(_ context.Context, env *Env) (*StageResult, error) {
	*f.log = append(*f.log, f.name+":"+env.RunID)
	if f.err != nil {
		return nil, f.err
	}
	return &StageResult{Processed: 1}, nil
}

func TestScheduler_RunsStagesInOrder(t *testing.T) {
	st := newMemStore()
	env := testEnv(t, st)
	env.RunID = ""

	var log []string
	sched := NewScheduler(env,
		&fakeStage{name: "first", log: &log},
		&fakeStage{name: "second", log: &log},
		&fakeStage{name: "third", log: &log},
	)

	run, err := sched.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, model.RunComplete, run.Status)
	assert.Empty(t, run.FailedStage)

	// Every stage saw the same run ID, assigned before the first stage ran.
	require.NotEmpty(t, env.RunID)
	assert.Equal(t, []string{
		"first:" + env.RunID,
		"second:" + env.RunID,
		"third:" + env.RunID,
	}, log)

	stored := st.runs[run.ID]
	require.NotNil(t, stored)
	assert.Equal(t, model.RunComplete, stored.Status)
	assert.NotNil(t, stored.FinishedAt)
}

func TestScheduler_FailFast(t *testing.T) {
	st := newMemStore()
	env := testEnv(t, st)

	var log []string
	sched := NewScheduler(env,
		&fakeStage{name: "collect", log: &log},
		&fakeStage{name: "prevet", log: &log, err: eris.New("overpass unreachable")},
		&fakeStage{name: "crawl", log: &log},
	)

	run, err := sched.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: stage prevet")
	assert.Contains(t, err.Error(), "overpass unreachable")

	require.NotNil(t, run)
	assert.Equal(t, model.RunFailed, run.Status)
	assert.Equal(t, "prevet", run.FailedStage)

	// The stage after the failure never ran.
	assert.Len(t, log, 2)

	stored := st.runs[run.ID]
	require.NotNil(t, stored)
	assert.Equal(t, model.RunFailed, stored.Status)
	assert.Equal(t, "prevet", stored.FailedStage)
	assert.Contains(t, stored.Error, "overpass unreachable")
	assert.NotNil(t, stored.FinishedAt)
}

func TestAllStages_Order(t *testing.T) {
	var names []string
	for _, s := range AllStages() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"collect", "prevet", "crawl", "images", "enrich", "verify"}, names)
}

func TestReportError_TagsRun(t *testing.T) {
	st := newMemStore()
	env := testEnv(t, st)
	env.RunID = "run-9"

	env.ReportError(context.Background(), "crawl", "v-1", eris.New("render timeout"))

	require.Len(t, st.errs, 1)
	assert.Equal(t, "run-9", st.errs[0].RunID)
	assert.Equal(t, "crawl", st.errs[0].Stage)
	assert.Equal(t, "v-1", st.errs[0].VenueID)
	assert.Contains(t, st.errs[0].Message, "render timeout")
}
