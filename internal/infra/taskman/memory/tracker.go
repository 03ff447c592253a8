// Package memory provides an in-process task tracker for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/internal/domain/taskman"
	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

var _ taskman.Querier = (*Tracker)(nil)

type task struct {
	key         string
	flawID      uuid.UUID
	summary     string
	description string
	labels      []string
	state       flaw.WorkflowState
}

// Tracker keeps tasks in memory and applies the same rules a remote tracker
// does: tokens are checked, writes need permission, and a transition only
// happens from the state the caller last saw.
type Tracker struct {
	mu sync.Mutex

	project  string
	content  *taskman.ContentBuilder
	tokens   map[string]struct{}
	readOnly map[string]struct{}

	seq    int
	tasks  map[string]*task
	byFlaw map[uuid.UUID]string

	creates     int
	updates     int
	transitions int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTokens restricts the tokens the tracker accepts. Without it any
// non-empty token is accepted.
func WithTokens(tokens ...string) Option {
	return func(t *Tracker) {
		for _, tok := range tokens {
			t.tokens[tok] = struct{}{}
		}
	}
}

// WithReadOnlyTokens marks tokens that authenticate but may not write.
func WithReadOnlyTokens(tokens ...string) Option {
	return func(t *Tracker) {
		for _, tok := range tokens {
			t.readOnly[tok] = struct{}{}
		}
	}
}

// WithContentBuilder sets the renderer for task summaries and descriptions.
func WithContentBuilder(b *taskman.ContentBuilder) Option {
	return func(t *Tracker) { t.content = b }
}

// NewTracker creates a Tracker that files tasks in project.
func NewTracker(project string, opts ...Option) *Tracker {
	t := &Tracker{
		project:  project,
		content:  taskman.NewContentBuilder(),
		tokens:   make(map[string]struct{}),
		readOnly: make(map[string]struct{}),
		tasks:    make(map[string]*task),
		byFlaw:   make(map[uuid.UUID]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) authenticate(op, token string) error {
	if token == "" {
		return taskman.ErrMissingToken
	}
	if len(t.tokens) == 0 {
		return nil
	}
	if _, ok := t.tokens[token]; ok {
		return nil
	}
	if _, ok := t.readOnly[token]; ok {
		return nil
	}
	return &taskman.RemoteError{Op: op, StatusCode: 401, Err: taskman.ErrRemoteAuth}
}

func (t *Tracker) authorizeWrite(op, token string) error {
	if err := t.authenticate(op, token); err != nil {
		return err
	}
	if _, ok := t.readOnly[token]; ok {
		return &taskman.PermissionError{Project: t.project}
	}
	return nil
}

// CreateOrUpdateTask implements taskman.Querier. New tasks start in NEW
// whatever the flaw's state, as they do on Jira.
func (t *Tracker) CreateOrUpdateTask(ctx context.Context, token string, f *flaw.Flaw) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.authorizeWrite("create_or_update", token); err != nil {
		return "", err
	}

	key := f.TaskKey()
	if key == "" {
		key = t.byFlaw[f.ID()]
	} else if _, ok := t.tasks[key]; !ok {
		return "", taskman.ErrTaskNotFound
	}

	if key == "" {
		t.seq++
		key = fmt.Sprintf("%s-%d", t.project, t.seq)
		t.tasks[key] = &task{key: key, flawID: f.ID(), state: flaw.WorkflowStateNew}
		t.byFlaw[f.ID()] = key
		t.creates++
	} else {
		t.updates++
	}

	tk := t.tasks[key]
	tk.summary = t.content.Summary(f)
	tk.description = t.content.Description(f)
	tk.labels = t.content.Labels(f)
	return key, nil
}

// TransitionTask implements taskman.Querier.
func (t *Tracker) TransitionTask(
	ctx context.Context,
	token string,
	f *flaw.Flaw,
	from flaw.WorkflowState,
) (flaw.WorkflowState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.authorizeWrite("transition", token); err != nil {
		return "", err
	}

	tk, ok := t.tasks[f.TaskKey()]
	if !ok {
		return "", taskman.ErrTaskNotFound
	}

	target := f.WorkflowState
	if tk.state == target || tk.state != from {
		return tk.state, nil
	}
	tk.state = target
	t.transitions++
	return target, nil
}

// GetTask implements taskman.Querier.
func (t *Tracker) GetTask(ctx context.Context, token string, flawID uuid.UUID) (taskman.TaskStatus, error) {
	if err := ctx.Err(); err != nil {
		return taskman.TaskStatus{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.authenticate("get", token); err != nil {
		return taskman.TaskStatus{}, err
	}

	key, ok := t.byFlaw[flawID]
	if !ok {
		return taskman.TaskStatus{}, taskman.ErrTaskNotFound
	}
	tk := t.tasks[key]
	return taskman.TaskStatus{Key: key, State: tk.state, Status: string(tk.state)}, nil
}

// SetState changes the state of a task as a tracker user would, outside of
// any flaw save.
func (t *Tracker) SetState(key string, state flaw.WorkflowState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.tasks[key]
	if !ok {
		return taskman.ErrTaskNotFound
	}
	tk.state = state
	return nil
}

// Delete removes a task as a tracker admin would.
func (t *Tracker) Delete(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tk, ok := t.tasks[key]; ok {
		delete(t.byFlaw, tk.flawID)
		delete(t.tasks, key)
	}
}

// Summary returns the current summary of a task.
func (t *Tracker) Summary(key string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tk, ok := t.tasks[key]; ok {
		return tk.summary
	}
	return ""
}

// Stats reports how many creates, updates and transitions were applied.
func (t *Tracker) Stats() (creates, updates, transitions int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.creates, t.updates, t.transitions
}
