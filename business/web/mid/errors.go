package mid

import (
	"context"
	"net/http"

	"github.com/ardanlabs/mixnode/business/web/errs"
	"github.com/ardanlabs/mixnode/foundation/validate"
	"github.com/ardanlabs/mixnode/foundation/web"
	"go.uber.org/zap"
)

// Errors turns handler errors into a consistent JSON response. Errors that
// are not trusted are reported as a 500 without their message. A shutdown
// error is passed back up so the app can terminate.
func Errors(log *zap.SugaredLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)
			if err == nil {
				return nil
			}

			log.Errorw("ERROR", "traceid", web.GetTraceID(ctx), "ERROR", err)

			var er errs.Response
			var status int
			switch {
			case validate.IsFieldErrors(err):
				er = errs.NewFieldsResponse(validate.GetFieldErrors(err))
				status = http.StatusBadRequest

			case errs.IsTrusted(err):
				te := errs.GetTrusted(err)
				er = errs.Response{Error: te.Error()}
				status = te.Status

			default:
				er = errs.Response{Error: http.StatusText(http.StatusInternalServerError)}
				status = http.StatusInternalServerError
			}

			if err := web.Respond(ctx, w, er, status); err != nil {
				return err
			}

			if web.IsShutdown(err) {
				return err
			}

			return nil
		}

		return h
	}

	return m
}
