// Package progress aggregates the progress of the steps of a multi step
// operation into one monotonic value in [0, 1].
//
// Computational code reports how much of its own step is done, the manager
// maps it into the budget of that step in the running operation, optionally
// split in repeats (e.g. one share per model of a step that runs per model).
package progress

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
)

// ProcessStage is a user visible multi step operation.
type ProcessStage string

// StepStage is one reporting step of a process stage.
type StepStage string

// State is the state of the running operation.
type State string

const (
	StateEmpty   State = "empty"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

const epsilon = 1e-6

// ProgressPlaceholder is replaced by the percentage in the notice texts.
const ProgressPlaceholder = "{{progress}}"

// Step is a step of a process stage and the progress reached once it's done.
type Step struct {
	ID      StepStage `yaml:"id"`
	Ceiling float64   `yaml:"ceiling"`
}

type step struct {
	id      StepStage
	floor   float64
	ceiling float64
}

type template struct {
	stage       ProcessStage
	steps       []step
	runningText string
	successText string
	failedText  string
}

func (t *template) indexOf(id StepStage) int {
	for i, s := range t.steps {
		if s.id == id {
			return i
		}
	}
	return -1
}

// ManagerConfig is the configuration of the progress manager.
type ManagerConfig struct {
	// Language of the notices, English by default.
	Language language.Tag
	// Catalog with the notice translations, by default message.DefaultCatalog.
	// Literal percent signs of keys and messages are escaped as "%%".
	Catalog catalog.Catalog
	Logger  log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.Language == language.Und {
		c.Language = language.English
	}

	if c.Catalog == nil {
		c.Catalog = message.DefaultCatalog
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "progress.Manager"})

	return nil
}

// Manager is the state machine of one running operation at a time.
type Manager struct {
	printer *message.Printer
	logger  log.Logger

	mu        sync.Mutex
	templates map[ProcessStage]*template
	order     []ProcessStage

	stage      ProcessStage
	state      State
	progress   float64
	stepIndex  int
	totals     []int
	remainings []int
}

// NewManager returns a new progress manager without templates.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		printer:   message.NewPrinter(cfg.Language, message.Catalog(cfg.Catalog)),
		logger:    cfg.Logger,
		templates: map[ProcessStage]*template{},
		state:     StateEmpty,
	}, nil
}

// Push registers the template of a process stage. Ceilings must be strictly
// increasing and the last one must be 1.
func (m *Manager) Push(stage ProcessStage, steps []Step, runningText, successText, failedText string) error {
	if len(steps) == 0 {
		return fmt.Errorf("stage %s without steps: %w", stage, model.ErrNotValid)
	}

	t := &template{
		stage:       stage,
		runningText: runningText,
		successText: successText,
		failedText:  failedText,
	}
	floor := 0.0
	for _, s := range steps {
		if s.Ceiling <= floor || s.Ceiling > 1+epsilon {
			return fmt.Errorf("stage %s step %s ceiling %v must be in (%v, 1]: %w", stage, s.ID, s.Ceiling, floor, model.ErrNotValid)
		}
		if t.indexOf(s.ID) >= 0 {
			return fmt.Errorf("stage %s step %s is repeated: %w", stage, s.ID, model.ErrNotValid)
		}
		t.steps = append(t.steps, step{id: s.ID, floor: floor, ceiling: s.Ceiling})
		floor = s.Ceiling
	}
	if floor < 1-epsilon {
		return fmt.Errorf("stage %s last ceiling must be 1: %w", stage, model.ErrNotValid)
	}
	t.steps[len(t.steps)-1].ceiling = 1

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.templates[stage]; ok {
		return fmt.Errorf("stage %s: %w", stage, model.ErrAlreadyExists)
	}
	m.templates[stage] = t
	m.order = append(m.order, stage)

	return nil
}

// StartProgress starts a new run of a stage. repeatCounts sets, per step, in
// how many shares its budget is split, missing or non positive counts are 1.
func (m *Manager) StartProgress(stage ProcessStage, repeatCounts ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.templates[stage]
	if !ok {
		return fmt.Errorf("stage %s: %w", stage, model.ErrNotFound)
	}
	m.startLocked(t, repeatCounts)

	return nil
}

// EnsureStarted makes sure the stage owning stepID is running with at least
// repeats shares for that step. A stage that is not running is only started
// from its first step. When already running, the repeats of a step that isn't
// done yet can grow but never shrink. It returns whether a new run was
// started and whether stepID is the last step of its stage.
func (m *Manager) EnsureStarted(stepID StepStage, repeats int) (started, last, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, i := m.ownerLocked(stepID)
	if t == nil {
		return false, false, false
	}
	last = i == len(t.steps)-1

	if m.stage == t.stage && m.state == StateRunning {
		if i >= m.stepIndex && repeats > m.totals[i] {
			m.remainings[i] += repeats - m.totals[i]
			m.totals[i] = repeats
		}
		return false, last, true
	}

	if i != 0 {
		return false, false, false
	}
	m.startLocked(t, []int{repeats})

	return true, last, true
}

func (m *Manager) startLocked(t *template, repeatCounts []int) {
	m.stage = t.stage
	m.state = StateRunning
	m.progress = 0
	m.stepIndex = 0
	m.totals = make([]int, len(t.steps))
	m.remainings = make([]int, len(t.steps))
	for i := range t.steps {
		c := 1
		if i < len(repeatCounts) && repeatCounts[i] > 0 {
			c = repeatCounts[i]
		}
		m.totals[i] = c
		m.remainings[i] = c
	}

	m.logger.Debugf("progress of stage %s started", t.stage)
}

// UpdateProgress reports the local progress of a step and returns the stage
// progress. When no stage has been started, the stage owning the step is.
// The stage progress never goes back within a run.
func (m *Manager) UpdateProgress(stepID StepStage, fraction float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stage == "" {
		owner, _ := m.ownerLocked(stepID)
		if owner == nil {
			m.logger.Debugf("no stage owns step %s", stepID)
			return m.progress
		}
		m.startLocked(owner, nil)
	}

	t := m.templates[m.stage]
	i := t.indexOf(stepID)
	if i < 0 {
		m.logger.Debugf("step %s is not part of stage %s", stepID, m.stage)
		return m.progress
	}

	s := t.steps[i]
	total := m.totals[i]
	repeatIndex := min(max(total-m.remainings[i], 0), total-1)
	width := s.ceiling - s.floor
	fraction = min(max(fraction, 0), 1)

	p := s.floor + width*float64(repeatIndex)/float64(total) + fraction*width/float64(total)
	if p > 1-epsilon {
		p = 1
	}
	if p > m.progress {
		m.progress = p
	}

	return m.progress
}

// StartNextStep consumes one repeat of the current step, once all are
// consumed the next step becomes the current one.
func (m *Manager) StartNextStep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stage == "" || m.stepIndex >= len(m.remainings) {
		return
	}

	m.remainings[m.stepIndex]--
	if m.remainings[m.stepIndex] <= 0 {
		m.remainings[m.stepIndex] = 0
		m.stepIndex++
	}
}

// FinishProgress ends the running stage. Progress and cursor are kept.
func (m *Manager) FinishProgress(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateRunning {
		return
	}

	m.state = StateFailed
	if success {
		m.state = StateSuccess
	}
	m.logger.Debugf("progress of stage %s finished: %s", m.stage, m.state)
}

// GetNotice returns the localized status text of the stage. It's empty when
// nothing has run or when stepID is set and not part of the current stage.
func (m *Manager) GetNotice(stepID StepStage) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.noticeLocked(stepID)
}

func (m *Manager) noticeLocked(stepID StepStage) string {
	if m.state == StateEmpty {
		return ""
	}

	t := m.templates[m.stage]
	if stepID != "" && t.indexOf(stepID) < 0 {
		return ""
	}

	var text string
	switch m.state {
	case StateRunning:
		text = t.runningText
	case StateSuccess:
		text = t.successText
	case StateFailed:
		text = t.failedText
	}
	if text == "" {
		return ""
	}

	percent := m.printer.Sprintf("%.0f%%", m.progress*100)
	return strings.ReplaceAll(m.printer.Sprintf(escapeFormat(text)), ProgressPlaceholder, percent)
}

// escapeFormat keeps the literal percent signs of a text used as a catalog key.
func escapeFormat(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

// StageOf returns the stage owning a step and the step position in it.
func (m *Manager) StageOf(stepID StepStage) (stage ProcessStage, index int, last bool, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, i := m.ownerLocked(stepID)
	if t == nil {
		return "", 0, false, false
	}
	return t.stage, i, i == len(t.steps)-1, true
}

func (m *Manager) ownerLocked(stepID StepStage) (*template, int) {
	for _, stage := range m.order {
		t := m.templates[stage]
		if i := t.indexOf(stepID); i >= 0 {
			return t, i
		}
	}
	return nil, -1
}

// Snapshot is a point in time view of the running stage.
type Snapshot struct {
	Stage    ProcessStage `json:"stage,omitempty"`
	State    State        `json:"state"`
	Progress float64      `json:"progress"`
	Notice   string       `json:"notice,omitempty"`
}

// Snapshot returns the current view of the running stage.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Snapshot{
		Stage:    m.stage,
		State:    m.state,
		Progress: m.progress,
		Notice:   m.noticeLocked(""),
	}
}
