package mid

import (
	"context"
	"errors"
	"net/http"

	"github.com/ahrav/flawtracker/internal/api/errs"
	"github.com/ahrav/flawtracker/internal/domain/flaw"
	"github.com/ahrav/flawtracker/internal/domain/taskman"
	"github.com/ahrav/flawtracker/pkg/common/logger"
	"github.com/ahrav/flawtracker/pkg/web"
)

// Errors handles errors coming out of the call chain. Domain and tracker
// errors are translated to their HTTP form; anything unknown becomes a 500
// whose detail is only logged.
func Errors(log *logger.Logger) web.MidFunc {
	m := func(next web.HandlerFunc) web.HandlerFunc {
		h := func(ctx context.Context, r *http.Request) web.Encoder {
			resp := next(ctx, r)
			err, isError := resp.(error)
			if !isError {
				return resp
			}

			appErr := toAppError(err)
			if appErr.Code == errs.Internal {
				log.Error(ctx, "handled error during request", "err", err, "path", r.URL.Path)
				appErr = errs.Newf(errs.Internal, "%s", http.StatusText(http.StatusInternalServerError))
			} else {
				log.Info(ctx, "request rejected", "code", appErr.Code.String(), "err", err, "path", r.URL.Path)
			}

			return appErr
		}

		return h
	}

	return m
}

func toAppError(err error) *errs.Error {
	if appErr := errs.GetError(err); appErr != nil {
		if appErr.Classified() {
			return appErr
		}
		err = appErr.Unwrap()
	}

	var ve *flaw.ValidationError
	var pe *taskman.PermissionError
	switch {
	case errors.As(err, &ve):
		e := errs.New(errs.InvalidArgument, err)
		e.Fields = make(map[string]string, len(ve.Errors))
		for _, fe := range ve.Errors {
			if prev, ok := e.Fields[fe.Field]; ok {
				e.Fields[fe.Field] = prev + " " + fe.Message
				continue
			}
			e.Fields[fe.Field] = fe.Message
		}
		return e
	case errors.Is(err, flaw.ErrInvalidTransition):
		return errs.New(errs.Conflict, err)
	case errors.Is(err, flaw.ErrDuplicateCVE):
		return errs.New(errs.AlreadyExists, err)
	case errors.Is(err, flaw.ErrFlawNotFound):
		return errs.New(errs.NotFound, err)
	case errors.Is(err, taskman.ErrMissingToken), errors.Is(err, taskman.ErrRemoteAuth):
		return errs.New(errs.Unauthenticated, err)
	case errors.As(err, &pe):
		return errs.New(errs.PermissionDenied, pe)
	case errors.Is(err, taskman.ErrRemotePermission):
		return errs.New(errs.PermissionDenied, err)
	case errors.Is(err, taskman.ErrTaskNotFound):
		return errs.New(errs.NotFound, err)
	case taskman.IsRemote(err):
		return errs.New(errs.Upstream, err)
	default:
		return errs.New(errs.Internal, err)
	}
}
