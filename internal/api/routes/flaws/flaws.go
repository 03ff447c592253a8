// Package flaws binds the flaw endpoints.
package flaws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ahrav/flawtracker/internal/api/errs"
	"github.com/ahrav/flawtracker/internal/app/flaws"
	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/internal/domain/taskman"
	"github.com/ahrav/flawtracker/pkg/common/logger"
	"github.com/ahrav/flawtracker/pkg/common/uuid"
	"github.com/ahrav/flawtracker/pkg/web"
)

// TokenHeader carries the tracker token of the calling user.
const TokenHeader = "Jira-Api-Key"

// Metrics counts flaw writes.
type Metrics interface {
	IncFlawWrites(ctx context.Context, op string)
	IncFlawWriteErrors(ctx context.Context, op, reason string)
}

// Config contains the dependencies needed by the flaw handlers.
type Config struct {
	Log     *logger.Logger
	Flaws   *flaws.Service
	Metrics Metrics
}

// Routes binds all the flaw endpoints.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	h := handlers{
		log:     cfg.Log.With("component", "flaw_api"),
		svc:     cfg.Flaws,
		metrics: cfg.Metrics,
	}

	app.HandlerFunc(http.MethodPost, version, "/flaws", h.create)
	app.HandlerFunc(http.MethodGet, version, "/flaws", h.list)
	app.HandlerFunc(http.MethodGet, version, "/flaws/{id}", h.get)
	app.HandlerFunc(http.MethodPut, version, "/flaws/{id}", h.update)
	app.HandlerFunc(http.MethodPost, version, "/flaws/{id}/affects", h.addAffect)
	app.HandlerFunc(http.MethodGet, version, "/flaws/{id}/task", h.task)
	app.HandlerFunc(http.MethodPost, version, "/flaws/{id}/promote", h.promote)
	app.HandlerFunc(http.MethodPost, version, "/flaws/{id}/reject", h.reject)
}

type handlers struct {
	log     *logger.Logger
	svc     *flaws.Service
	metrics Metrics
}

// saveOptions turns the request credentials into save options. A flaw
// created or edited without a token is saved locally only.
func saveOptions(r *http.Request) []flaws.SaveOption {
	var opts []flaws.SaveOption
	if token := r.Header.Get(TokenHeader); token != "" {
		opts = append(opts, flaws.WithToken(token))
	}
	return opts
}

func parseID(r *http.Request) (uuid.UUID, *errs.Error) {
	id, err := uuid.Parse(web.Param(r, "id"))
	if err != nil {
		return uuid.UUID{}, errs.New(errs.InvalidArgument, errs.NewFieldErrors("id", err))
	}
	return id, nil
}

func decode(r *http.Request, v any) *errs.Error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Newf(errs.InvalidArgument, "decoding request body: %s", err)
	}
	if err := errs.Check(v); err != nil {
		return errs.New(errs.InvalidArgument, err)
	}
	return nil
}

// writeFailed classifies a failed write for metrics and hands the error to
// the error middleware.
func (h handlers) writeFailed(ctx context.Context, op string, err error) web.Encoder {
	reason := "local"
	var ve *flaw.ValidationError
	switch {
	case errors.As(err, &ve):
		reason = "validation"
	case taskman.IsRemote(err), errors.Is(err, taskman.ErrMissingToken):
		reason = "tracker"
	}
	h.metrics.IncFlawWriteErrors(ctx, op, reason)
	return errs.Wrap(err)
}

func (h handlers) create(ctx context.Context, r *http.Request) web.Encoder {
	var req createRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	f := req.toFlaw()
	h.metrics.IncFlawWrites(ctx, "create")

	res, err := h.svc.Create(ctx, f, saveOptions(r)...)
	if err != nil {
		return h.writeFailed(ctx, "create", err)
	}

	return toSaveResponse(f, res, http.StatusCreated)
}

func (h handlers) update(ctx context.Context, r *http.Request) web.Encoder {
	id, perr := parseID(r)
	if perr != nil {
		return perr
	}

	var req updateRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	f, err := h.svc.Get(ctx, id)
	if err != nil {
		return errs.Wrap(err)
	}
	req.apply(f)

	opts := saveOptions(r)
	if web.QueryFlag(r, "create_jira_task") {
		opts = append(opts, flaws.WithForceCreate())
	}

	h.metrics.IncFlawWrites(ctx, "update")
	res, err := h.svc.Save(ctx, f, opts...)
	if err != nil {
		// The local changes of a stored flaw are committed even when the
		// tracker call fails; the caller still learns about the failure.
		h.log.Info(ctx, "flaw update returned error", "flaw_id", id, "err", err)
		return h.writeFailed(ctx, "update", err)
	}

	return toSaveResponse(f, res, http.StatusOK)
}

func (h handlers) get(ctx context.Context, r *http.Request) web.Encoder {
	id, perr := parseID(r)
	if perr != nil {
		return perr
	}

	f, err := h.svc.Get(ctx, id)
	if err != nil {
		return errs.Wrap(err)
	}
	return toFlawResponse(f)
}

func (h handlers) list(ctx context.Context, r *http.Request) web.Encoder {
	q := r.URL.Query()

	var lq listQuery
	lq.WorkflowState = q.Get("workflow_state")
	for name, dst := range map[string]*int{"limit": &lq.Limit, "offset": &lq.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return errs.New(errs.InvalidArgument, errs.NewFieldErrors(name, fmt.Errorf("%s must be a number", name)))
		}
		*dst = n
	}
	if err := errs.Check(lq); err != nil {
		return errs.New(errs.InvalidArgument, err)
	}

	opts := flaw.ListOptions{
		WorkflowState: flaw.WorkflowState(lq.WorkflowState),
		Limit:         lq.Limit,
		Offset:        lq.Offset,
	}
	if raw := q.Get("embargoed"); raw != "" {
		embargoed := web.QueryFlag(r, "embargoed")
		opts.Embargoed = &embargoed
	}

	found, err := h.svc.List(ctx, opts)
	if err != nil {
		return errs.Wrap(err)
	}

	out := flawList{Flaws: make([]flawResponse, 0, len(found)), Count: len(found)}
	for _, f := range found {
		out.Flaws = append(out.Flaws, toFlawResponse(f))
	}
	return out
}

func (h handlers) addAffect(ctx context.Context, r *http.Request) web.Encoder {
	id, perr := parseID(r)
	if perr != nil {
		return perr
	}

	var req affectRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	h.metrics.IncFlawWrites(ctx, "add_affect")
	f, res, err := h.svc.AddAffect(ctx, id, req.toAffect(), saveOptions(r)...)
	if err != nil {
		return h.writeFailed(ctx, "add_affect", err)
	}
	return toSaveResponse(f, res, http.StatusCreated)
}

func (h handlers) task(ctx context.Context, r *http.Request) web.Encoder {
	id, perr := parseID(r)
	if perr != nil {
		return perr
	}

	ts, err := h.svc.TaskStatus(ctx, r.Header.Get(TokenHeader), id)
	if err != nil {
		return errs.Wrap(err)
	}
	return toTaskResponse(ts)
}

func (h handlers) promote(ctx context.Context, r *http.Request) web.Encoder {
	return h.move(ctx, r, "promote", h.svc.Promote)
}

func (h handlers) reject(ctx context.Context, r *http.Request) web.Encoder {
	return h.move(ctx, r, "reject", h.svc.Reject)
}

type moveFunc func(ctx context.Context, id uuid.UUID, opts ...flaws.SaveOption) (*flaw.Flaw, flaws.SaveResult, error)

func (h handlers) move(ctx context.Context, r *http.Request, op string, fn moveFunc) web.Encoder {
	id, perr := parseID(r)
	if perr != nil {
		return perr
	}

	h.metrics.IncFlawWrites(ctx, op)
	f, res, err := fn(ctx, id, saveOptions(r)...)
	if err != nil {
		return h.writeFailed(ctx, op, err)
	}
	return toSaveResponse(f, res, http.StatusOK)
}
