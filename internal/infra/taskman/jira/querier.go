// Package jira implements taskman.Querier on top of the Jira REST API v2
// through go-jira.
package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gojira "github.com/andygrunwald/go-jira"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/internal/domain/taskman"
	"github.com/ahrav/flawtracker/pkg/common/logger"
	"github.com/ahrav/flawtracker/pkg/common/uuid"
)

var _ taskman.Querier = (*Querier)(nil)

const defaultIssueType = "Vulnerability"

// Config holds the Jira instance and project tasks are filed in.
type Config struct {
	URL        string
	ProjectKey string
	// IssueType defaults to "Vulnerability".
	IssueType   string
	VulnMgmtURL string
	// MaxRetryElapsed bounds the retries of a single request. Zero keeps
	// the backoff default.
	MaxRetryElapsed time.Duration
	HTTPClient      *http.Client
}

// Querier files and transitions Jira issues with the caller's token.
type Querier struct {
	cfg     Config
	client  *client
	content *taskman.ContentBuilder

	logger *logger.Logger
	tracer trace.Tracer
}

// Option configures a Querier.
type Option func(*Querier)

// WithContentBuilder replaces the default content builder, which only links
// cfg.VulnMgmtURL.
func WithContentBuilder(b *taskman.ContentBuilder) Option {
	return func(q *Querier) { q.content = b }
}

// NewQuerier creates a Querier.
func NewQuerier(cfg Config, logger *logger.Logger, tracer trace.Tracer, opts ...Option) (*Querier, error) {
	if cfg.URL == "" {
		return nil, errors.New("jira url is required")
	}
	if cfg.ProjectKey == "" {
		return nil, errors.New("jira project key is required")
	}
	if cfg.IssueType == "" {
		cfg.IssueType = defaultIssueType
	}
	maxElapsed := cfg.MaxRetryElapsed
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}

	q := &Querier{
		cfg:     cfg,
		client:  newClient(cfg.URL, cfg.HTTPClient, maxElapsed, tracer),
		content: taskman.NewContentBuilder(taskman.WithVulnMgmtURL(cfg.VulnMgmtURL)),
		logger:  logger.With("component", "jira_querier"),
		tracer:  tracer,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

type namedRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// issueState maps the status and resolution of iss to a workflow state.
func issueState(iss *gojira.Issue) (flaw.WorkflowState, bool) {
	s := issueStatus(iss)
	return stateFor(s.Status, s.Resolution)
}

func issueStatus(iss *gojira.Issue) remoteStatus {
	var s remoteStatus
	if iss == nil || iss.Fields == nil {
		return s
	}
	if iss.Fields.Status != nil {
		s.Status = iss.Fields.Status.Name
	}
	if iss.Fields.Resolution != nil {
		s.Resolution = iss.Fields.Resolution.Name
	}
	return s
}

// checkWritePermission fails with a PermissionError unless the caller may
// create and edit issues in the project. go-jira has no wrapper for
// mypermissions, so the request is built on the client directly.
func (q *Querier) checkWritePermission(ctx context.Context, api *gojira.Client) error {
	var resp struct {
		Permissions map[string]struct {
			HavePermission bool `json:"havePermission"`
		} `json:"permissions"`
	}
	path := "rest/api/2/mypermissions?" + url.Values{
		"projectKey":  {q.cfg.ProjectKey},
		"permissions": {"CREATE_ISSUES,EDIT_ISSUES"},
	}.Encode()

	err := q.client.call(ctx, "permissions", func(ctx context.Context) (*gojira.Response, error) {
		req, err := api.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, err
		}
		return api.Do(req, &resp)
	})
	if err != nil {
		if errors.Is(err, taskman.ErrRemotePermission) {
			return &taskman.PermissionError{Project: q.cfg.ProjectKey}
		}
		return err
	}
	for _, p := range []string{"CREATE_ISSUES", "EDIT_ISSUES"} {
		if !resp.Permissions[p].HavePermission {
			return &taskman.PermissionError{Project: q.cfg.ProjectKey}
		}
	}
	return nil
}

// findByFlaw looks up the issue labeled with the flaw's UUID.
func (q *Querier) findByFlaw(ctx context.Context, api *gojira.Client, flawID uuid.UUID) (*gojira.Issue, error) {
	jql := fmt.Sprintf(`project = %q AND labels = %q`, q.cfg.ProjectKey, taskman.LabelFlawUUIDPrefix+flawID.String())

	var issues []gojira.Issue
	err := q.client.call(ctx, "search", func(ctx context.Context) (*gojira.Response, error) {
		var (
			resp *gojira.Response
			err  error
		)
		issues, resp, err = api.Issue.SearchWithContext(ctx, jql, &gojira.SearchOptions{
			MaxResults: 1,
			Fields:     []string{"status", "resolution"},
		})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	if len(issues) == 0 {
		return nil, taskman.ErrTaskNotFound
	}
	return &issues[0], nil
}

func (q *Querier) getIssue(ctx context.Context, api *gojira.Client, key string) (*gojira.Issue, error) {
	var iss *gojira.Issue
	err := q.client.call(ctx, "get_issue", func(ctx context.Context) (*gojira.Response, error) {
		var (
			resp *gojira.Response
			err  error
		)
		iss, resp, err = api.Issue.GetWithContext(ctx, key, &gojira.GetQueryOptions{Fields: "status,resolution"})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return iss, nil
}

// CreateOrUpdateTask implements taskman.Querier. A flaw without a task key is
// first looked up by its flawuuid label so retried creates reuse the issue.
// New issues are filed in Jira's initial status.
func (q *Querier) CreateOrUpdateTask(ctx context.Context, token string, f *flaw.Flaw) (string, error) {
	ctx, span := q.tracer.Start(ctx, "jira.create_or_update_task", trace.WithAttributes(
		attribute.String("flaw_id", f.ID().String()),
		attribute.String("task_key", f.TaskKey()),
		attribute.String("project", q.cfg.ProjectKey),
	))
	defer span.End()

	key, err := q.createOrUpdate(ctx, token, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create or update task failed")
		return "", err
	}
	span.SetAttributes(attribute.String("result_key", key))
	return key, nil
}

func (q *Querier) createOrUpdate(ctx context.Context, token string, f *flaw.Flaw) (string, error) {
	api, err := q.client.api(token)
	if err != nil {
		return "", err
	}
	if err := q.checkWritePermission(ctx, api); err != nil {
		return "", err
	}

	key := f.TaskKey()
	if key == "" {
		existing, err := q.findByFlaw(ctx, api, f.ID())
		switch {
		case err == nil:
			key = existing.Key
			q.logger.Info(ctx, "Reusing task found by flaw label", "flaw_id", f.ID().String(), "task_key", key)
		case !errors.Is(err, taskman.ErrTaskNotFound):
			return "", err
		}
	}

	if key != "" {
		fields := map[string]any{
			"summary":     q.content.Summary(f),
			"description": q.content.Description(f),
			"labels":      q.content.Labels(f),
		}
		err := q.client.call(ctx, "update_issue", func(ctx context.Context) (*gojira.Response, error) {
			return api.Issue.UpdateIssueWithContext(ctx, key, map[string]any{"fields": fields})
		})
		if err != nil {
			return "", err
		}
		return key, nil
	}

	issue := &gojira.Issue{Fields: &gojira.IssueFields{
		Project:     gojira.Project{Key: q.cfg.ProjectKey},
		Type:        gojira.IssueType{Name: q.cfg.IssueType},
		Summary:     q.content.Summary(f),
		Description: q.content.Description(f),
		Labels:      q.content.Labels(f),
	}}
	var created *gojira.Issue
	err = q.client.call(ctx, "create_issue", func(ctx context.Context) (*gojira.Response, error) {
		var (
			resp *gojira.Response
			err  error
		)
		created, resp, err = api.Issue.CreateWithContext(ctx, issue)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	if created == nil || created.Key == "" {
		return "", &taskman.RemoteError{Op: "create_issue", Message: "response carried no issue key"}
	}
	q.logger.Info(ctx, "Created task", "flaw_id", f.ID().String(), "task_key", created.Key)
	return created.Key, nil
}

// TransitionTask implements taskman.Querier. The remote status is read first:
// a task already in the target, or no longer in from, is left alone and its
// current state returned.
func (q *Querier) TransitionTask(
	ctx context.Context,
	token string,
	f *flaw.Flaw,
	from flaw.WorkflowState,
) (flaw.WorkflowState, error) {
	target := f.WorkflowState
	ctx, span := q.tracer.Start(ctx, "jira.transition_task", trace.WithAttributes(
		attribute.String("task_key", f.TaskKey()),
		attribute.String("from", string(from)),
		attribute.String("target", string(target)),
	))
	defer span.End()

	state, err := q.transition(ctx, token, f.TaskKey(), from, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return "", err
	}
	span.SetAttributes(attribute.String("remote_state", string(state)))
	return state, nil
}

func (q *Querier) transition(ctx context.Context, token, key string, from, target flaw.WorkflowState) (flaw.WorkflowState, error) {
	api, err := q.client.api(token)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", taskman.ErrTaskNotFound
	}
	want, ok := statusFor(target)
	if !ok {
		return "", fmt.Errorf("no jira status for workflow state %q", target)
	}

	iss, err := q.getIssue(ctx, api, key)
	if err != nil {
		return "", err
	}
	current, known := issueState(iss)
	if !known {
		return "", &taskman.RemoteError{Op: "transition", Message: fmt.Sprintf("unmapped status %q", issueStatus(iss))}
	}
	if current == target || current != from {
		return current, nil
	}

	var transitions []gojira.Transition
	err = q.client.call(ctx, "list_transitions", func(ctx context.Context) (*gojira.Response, error) {
		var (
			resp *gojira.Response
			err  error
		)
		transitions, resp, err = api.Issue.GetTransitionsWithContext(ctx, key)
		return resp, err
	})
	if err != nil {
		return "", err
	}

	id := ""
	for _, t := range transitions {
		if strings.EqualFold(t.To.Name, want.Status) {
			id = t.ID
			break
		}
	}
	if id == "" {
		return "", &taskman.RemoteError{
			Op:      "transition",
			Message: fmt.Sprintf("no transition from %q to %q", issueStatus(iss), want.Status),
		}
	}

	payload := map[string]any{"transition": namedRef{ID: id}}
	if want.Resolution != "" {
		payload["fields"] = map[string]any{"resolution": namedRef{Name: want.Resolution}}
	}
	err = q.client.call(ctx, "transition", func(ctx context.Context) (*gojira.Response, error) {
		return api.Issue.DoTransitionWithPayloadWithContext(ctx, key, payload)
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

// GetTask implements taskman.Querier.
func (q *Querier) GetTask(ctx context.Context, token string, flawID uuid.UUID) (taskman.TaskStatus, error) {
	ctx, span := q.tracer.Start(ctx, "jira.get_task", trace.WithAttributes(
		attribute.String("flaw_id", flawID.String()),
	))
	defer span.End()

	api, err := q.client.api(token)
	if err != nil {
		return taskman.TaskStatus{}, err
	}
	iss, err := q.findByFlaw(ctx, api, flawID)
	if err != nil {
		if !errors.Is(err, taskman.ErrTaskNotFound) {
			span.RecordError(err)
		}
		return taskman.TaskStatus{}, err
	}

	state, _ := issueState(iss)
	return taskman.TaskStatus{
		Key:    iss.Key,
		State:  state,
		Status: issueStatus(iss).String(),
		URL:    q.client.baseURL + "/browse/" + iss.Key,
	}, nil
}
