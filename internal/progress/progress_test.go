package progress_test

import (
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/progress"
)

const delta = 1e-6

func newManager(t *testing.T) *progress.Manager {
	t.Helper()

	m, err := progress.NewManager(progress.ManagerConfig{})
	require.NoError(t, err)
	return m
}

func TestManagerPush(t *testing.T) {
	tests := map[string]struct {
		steps  []progress.Step
		expErr bool
	}{
		"Increasing ceilings ending in 1 should be valid.": {
			steps: []progress.Step{{ID: "a", Ceiling: 0.4}, {ID: "b", Ceiling: 0.8}, {ID: "c", Ceiling: 1}},
		},
		"A single step should be valid.": {
			steps: []progress.Step{{ID: "a", Ceiling: 1}},
		},
		"No steps should fail.": {
			expErr: true,
		},
		"Equal ceilings should fail.": {
			steps:  []progress.Step{{ID: "a", Ceiling: 0.5}, {ID: "b", Ceiling: 0.5}, {ID: "c", Ceiling: 1}},
			expErr: true,
		},
		"Decreasing ceilings should fail.": {
			steps:  []progress.Step{{ID: "a", Ceiling: 0.6}, {ID: "b", Ceiling: 0.3}, {ID: "c", Ceiling: 1}},
			expErr: true,
		},
		"A last ceiling lower than 1 should fail.": {
			steps:  []progress.Step{{ID: "a", Ceiling: 0.4}, {ID: "b", Ceiling: 0.9}},
			expErr: true,
		},
		"A ceiling above 1 should fail.": {
			steps:  []progress.Step{{ID: "a", Ceiling: 0.4}, {ID: "b", Ceiling: 1.5}},
			expErr: true,
		},
		"A repeated step should fail.": {
			steps:  []progress.Step{{ID: "a", Ceiling: 0.4}, {ID: "a", Ceiling: 1}},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := newManager(t)
			err := m.Push("stage", test.steps, "", "", "")
			if test.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestManagerPushTwice(t *testing.T) {
	m := newManager(t)
	steps := []progress.Step{{ID: "a", Ceiling: 1}}
	require.NoError(t, m.Push("stage", steps, "", "", ""))

	err := m.Push("stage", steps, "", "", "")
	assert.ErrorIs(t, err, model.ErrAlreadyExists)
}

func TestManagerStartUnknownStage(t *testing.T) {
	m := newManager(t)
	err := m.StartProgress("missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestManagerUpdateProgress(t *testing.T) {
	type update struct {
		next     bool
		step     progress.StepStage
		fraction float64
		exp      float64
	}

	tests := map[string]struct {
		steps        []progress.Step
		repeatCounts []int
		start        bool
		updates      []update
	}{
		"Completing each step should reach its ceiling.": {
			steps: []progress.Step{{ID: "s1", Ceiling: 0.4}, {ID: "s2", Ceiling: 0.8}, {ID: "s3", Ceiling: 1}},
			start: true,
			updates: []update{
				{step: "s1", fraction: 1, exp: 0.4},
				{step: "s2", fraction: 1, exp: 0.8},
				{step: "s3", fraction: 1, exp: 1},
			},
		},
		"Updating without a running stage should start the stage of the step.": {
			steps: []progress.Step{{ID: "step1", Ceiling: 0.5}, {ID: "step2", Ceiling: 1}},
			updates: []update{
				{step: "step1", fraction: 1, exp: 0.5},
				{step: "step2", fraction: 1, exp: 1},
			},
		},
		"Partial progress should be mapped into the step budget.": {
			steps: []progress.Step{{ID: "s1", Ceiling: 0.4}, {ID: "s2", Ceiling: 1}},
			start: true,
			updates: []update{
				{step: "s1", fraction: 0.5, exp: 0.2},
				{step: "s2", fraction: 0.5, exp: 0.7},
			},
		},
		"Lower values should be discarded.": {
			steps: []progress.Step{{ID: "s1", Ceiling: 0.4}, {ID: "s2", Ceiling: 1}},
			start: true,
			updates: []update{
				{step: "s2", fraction: 0.5, exp: 0.7},
				{step: "s1", fraction: 1, exp: 0.7},
				{step: "s2", fraction: 0.1, exp: 0.7},
			},
		},
		"Repeated steps should split the step budget.": {
			steps:        []progress.Step{{ID: "s1", Ceiling: 0.6}, {ID: "s2", Ceiling: 1}},
			repeatCounts: []int{3},
			start:        true,
			updates: []update{
				{step: "s1", fraction: 1, exp: 0.2},
				{next: true, step: "s1", fraction: 0.5, exp: 0.3},
				{step: "s1", fraction: 1, exp: 0.4},
				{next: true, step: "s1", fraction: 1, exp: 0.6},
				{next: true, step: "s2", fraction: 0.5, exp: 0.8},
			},
		},
		"Out of range fractions should be clamped.": {
			steps: []progress.Step{{ID: "s1", Ceiling: 0.5}, {ID: "s2", Ceiling: 1}},
			start: true,
			updates: []update{
				{step: "s1", fraction: -3, exp: 0},
				{step: "s1", fraction: 8, exp: 0.5},
			},
		},
		"Unknown steps should not change the progress.": {
			steps: []progress.Step{{ID: "s1", Ceiling: 0.5}, {ID: "s2", Ceiling: 1}},
			start: true,
			updates: []update{
				{step: "s1", fraction: 0.5, exp: 0.25},
				{step: "other", fraction: 1, exp: 0.25},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			m := newManager(t)
			require.NoError(m.Push("stage", test.steps, "", "", ""))
			if test.start {
				require.NoError(m.StartProgress("stage", test.repeatCounts...))
			}

			for _, u := range test.updates {
				if u.next {
					m.StartNextStep()
				}
				got := m.UpdateProgress(u.step, u.fraction)
				assert.InDelta(t, u.exp, got, delta)
			}
			assert.Equal(t, progress.StateRunning, m.Snapshot().State)
		})
	}
}

func TestManagerUpdateProgressWithoutOwner(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.Push("stage", []progress.Step{{ID: "s1", Ceiling: 1}}, "", "", ""))

	got := m.UpdateProgress("other", 1)
	assert.Equal(t, 0.0, got)
	assert.Equal(t, progress.StateEmpty, m.Snapshot().State)
}

func TestManagerProgressIsMonotonic(t *testing.T) {
	m := newManager(t)
	steps := []progress.Step{{ID: "s1", Ceiling: 0.1}, {ID: "s2", Ceiling: 0.35}, {ID: "s3", Ceiling: 0.9}, {ID: "s4", Ceiling: 1}}
	require.NoError(t, m.Push("stage", steps, "", "", ""))
	require.NoError(t, m.StartProgress("stage", 2, 1, 4, 1))

	r := rand.New(rand.NewPCG(1, 2))
	last := 0.0
	for range 1000 {
		if r.IntN(10) == 0 {
			m.StartNextStep()
		}
		s := steps[r.IntN(len(steps))]
		got := m.UpdateProgress(s.ID, r.Float64()*1.2-0.1)
		require.GreaterOrEqual(t, got, last)
		require.LessOrEqual(t, got, 1.0)
		last = got
	}
}

func TestManagerFinishAndRestart(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	m := newManager(t)
	require.NoError(m.Push("first", []progress.Step{{ID: "a", Ceiling: 1}}, "", "", ""))
	require.NoError(m.Push("second", []progress.Step{{ID: "b", Ceiling: 1}}, "", "", ""))

	require.NoError(m.StartProgress("first"))
	m.UpdateProgress("a", 0.6)
	m.FinishProgress(true)

	snap := m.Snapshot()
	assert.Equal(progress.StateSuccess, snap.State)
	assert.InDelta(0.6, snap.Progress, delta)

	// Finishing twice keeps the first result.
	m.FinishProgress(false)
	assert.Equal(progress.StateSuccess, m.Snapshot().State)

	require.NoError(m.StartProgress("second"))
	snap = m.Snapshot()
	assert.Equal(progress.ProcessStage("second"), snap.Stage)
	assert.Equal(progress.StateRunning, snap.State)
	assert.Equal(0.0, snap.Progress)

	m.FinishProgress(false)
	assert.Equal(progress.StateFailed, m.Snapshot().State)
}

func TestManagerEnsureStarted(t *testing.T) {
	type call struct {
		step       progress.StepStage
		repeats    int
		expStarted bool
		expLast    bool
		expOK      bool
	}

	tests := map[string]struct {
		calls    []call
		updates  func(m *progress.Manager)
		expValue float64
	}{
		"A first step should start the stage.": {
			calls: []call{
				{step: "s1", repeats: 1, expStarted: true, expOK: true},
			},
		},
		"A step that is not the first should not start the stage.": {
			calls: []call{
				{step: "s2", repeats: 1},
			},
		},
		"An unknown step should be ignored.": {
			calls: []call{
				{step: "other", repeats: 1},
			},
		},
		"A running stage should not be restarted.": {
			calls: []call{
				{step: "s1", repeats: 1, expStarted: true, expOK: true},
				{step: "s1", repeats: 1, expOK: true},
				{step: "s2", repeats: 1, expLast: true, expOK: true},
			},
			updates: func(m *progress.Manager) {
				m.UpdateProgress("s1", 0.5)
			},
			expValue: 0.25,
		},
		"Growing the repeats should split the step budget.": {
			calls: []call{
				{step: "s1", repeats: 1, expStarted: true, expOK: true},
				{step: "s1", repeats: 2, expOK: true},
			},
			updates: func(m *progress.Manager) {
				m.UpdateProgress("s1", 1)
			},
			expValue: 0.25,
		},
		"Repeats should never shrink.": {
			calls: []call{
				{step: "s1", repeats: 2, expStarted: true, expOK: true},
				{step: "s1", repeats: 1, expOK: true},
			},
			updates: func(m *progress.Manager) {
				m.UpdateProgress("s1", 1)
			},
			expValue: 0.25,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			assert := assert.New(t)

			m := newManager(t)
			require.NoError(m.Push("stage", []progress.Step{{ID: "s1", Ceiling: 0.5}, {ID: "s2", Ceiling: 1}}, "", "", ""))

			for _, c := range test.calls {
				started, last, ok := m.EnsureStarted(c.step, c.repeats)
				assert.Equal(c.expStarted, started)
				assert.Equal(c.expLast, last)
				assert.Equal(c.expOK, ok)
			}
			if test.updates != nil {
				test.updates(m)
			}
			assert.InDelta(test.expValue, m.Snapshot().Progress, delta)
		})
	}
}

func TestManagerEnsureStartedConcurrently(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.Push("stage", []progress.Step{{ID: "s1", Ceiling: 0.5}, {ID: "s2", Ceiling: 1}}, "", "", ""))

	const n = 50
	var (
		wg      sync.WaitGroup
		started atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s, _, _ := m.EnsureStarted("s1", 1); s {
				started.Add(1)
			}
			m.UpdateProgress("s1", 0.5)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), started.Load())
	assert.InDelta(t, 0.25, m.Snapshot().Progress, delta)
}

func TestManagerGetNoticeLiteralPercent(t *testing.T) {
	const running = "Working 100% hard {{progress}}"

	tests := map[string]struct {
		lang      language.Tag
		expNotice string
	}{
		"A literal percent should be kept.": {
			expNotice: "Working 100% hard 50%",
		},
		"A literal percent should be kept in translations.": {
			lang:      language.Spanish,
			expNotice: "Trabajando al 100% {{progress}}",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			stages := progress.Stages{
				Translations: map[string]map[string]string{
					"es": {running: "Trabajando al 100% {{progress}}"},
				},
			}
			cat, err := stages.Catalog()
			require.NoError(err)

			m, err := progress.NewManager(progress.ManagerConfig{Language: test.lang, Catalog: cat})
			require.NoError(err)
			require.NoError(m.Push("stage", []progress.Step{{ID: "s1", Ceiling: 1}}, running, "", ""))

			m.UpdateProgress("s1", 0.5)
			assert.Equal(t, strings.ReplaceAll(test.expNotice, "{{progress}}", "50%"), m.GetNotice(""))
		})
	}
}

func TestManagerGetNotice(t *testing.T) {
	steps := []progress.Step{{ID: "s1", Ceiling: 0.5}, {ID: "s2", Ceiling: 1}}
	const (
		running = "Working... {{progress}}"
		success = "Done."
		failed  = "Broken."
	)

	tests := map[string]struct {
		lang      language.Tag
		run       func(m *progress.Manager)
		step      progress.StepStage
		expNotice string
	}{
		"Nothing running should not have notice.": {
			run:       func(m *progress.Manager) {},
			expNotice: "",
		},
		"A running stage should render the progress.": {
			run: func(m *progress.Manager) {
				m.UpdateProgress("s1", 0.5)
			},
			step:      "s1",
			expNotice: "Working... 25%",
		},
		"A successful stage should use the success text.": {
			run: func(m *progress.Manager) {
				m.UpdateProgress("s2", 1)
				m.FinishProgress(true)
			},
			expNotice: "Done.",
		},
		"A failed stage should use the failed text.": {
			run: func(m *progress.Manager) {
				m.UpdateProgress("s1", 1)
				m.FinishProgress(false)
			},
			expNotice: "Broken.",
		},
		"A step of another stage should not have notice.": {
			run: func(m *progress.Manager) {
				m.UpdateProgress("s1", 1)
			},
			step:      "other",
			expNotice: "",
		},
		"The notice should be translated.": {
			lang: language.Spanish,
			run: func(m *progress.Manager) {
				m.UpdateProgress("s2", 1)
			},
			expNotice: "Trabajando... 100%",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			stages := progress.Stages{
				Translations: map[string]map[string]string{
					"es": {running: "Trabajando... {{progress}}"},
				},
			}
			cat, err := stages.Catalog()
			require.NoError(err)

			m, err := progress.NewManager(progress.ManagerConfig{Language: test.lang, Catalog: cat})
			require.NoError(err)
			require.NoError(m.Push("stage", steps, running, success, failed))

			test.run(m)
			assert.Equal(t, test.expNotice, m.GetNotice(test.step))
		})
	}
}

func TestDefaultStages(t *testing.T) {
	require := require.New(t)

	stages, err := progress.DefaultStages()
	require.NoError(err)
	require.NotEmpty(stages.Stages)

	m := newManager(t)
	require.NoError(stages.Register(m))

	// Every task type reports on a registered step.
	for _, tt := range model.TaskTypes {
		_, _, _, ok := m.StageOf(progress.StepStage(tt))
		assert.True(t, ok, tt)
	}

	_, err = stages.Catalog()
	assert.NoError(t, err)
}

func TestLoadStages(t *testing.T) {
	tests := map[string]struct {
		yaml      string
		expErr    bool
		expStages []progress.StageTemplate
	}{
		"A valid file should be loaded.": {
			yaml: `
stages:
  - stage: s
    steps:
      - {id: a, ceiling: 0.3}
      - {id: b, ceiling: 1}
    runningText: r
    successText: ok
    failedText: ko
`,
			expStages: []progress.StageTemplate{{
				Stage:       "s",
				Steps:       []progress.Step{{ID: "a", Ceiling: 0.3}, {ID: "b", Ceiling: 1}},
				RunningText: "r",
				SuccessText: "ok",
				FailedText:  "ko",
			}},
		},
		"Unknown fields should fail.": {
			yaml:   "stages: []\nwhatever: true\n",
			expErr: true,
		},
		"Invalid yaml should fail.": {
			yaml:   "stages: [",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := progress.LoadStages(strings.NewReader(test.yaml))
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expStages, got.Stages)
		})
	}
}

func TestStagesCatalogInvalidLanguage(t *testing.T) {
	s := progress.Stages{Translations: map[string]map[string]string{"not a language!": {"a": "b"}}}
	_, err := s.Catalog()
	assert.Error(t, err)
}
