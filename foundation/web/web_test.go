package web_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ardanlabs/mixnode/foundation/validate"
	"github.com/ardanlabs/mixnode/foundation/web"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type payload struct {
	Name  string `json:"name" validate:"required"`
	Epoch uint32 `json:"epoch" validate:"gte=1"`
}

func Test_App(t *testing.T) {
	t.Log("Given the need to route requests through middleware.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen a route has app and route middleware.", testID)
		{
			var order []string
			trace := func(name string) web.Middleware {
				return func(h web.Handler) web.Handler {
					return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
						order = append(order, name)
						return h(ctx, w, r)
					}
				}
			}

			app := web.NewApp(make(chan os.Signal, 1), trace("app"))
			app.Handle(http.MethodGet, "v1", "/channels/:id", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				v, err := web.GetValues(ctx)
				if err != nil {
					return err
				}
				if v.TraceID == "" {
					t.Errorf("\t%s\tTest %d:\tShould have a trace id.", failed, testID)
				}
				return web.Respond(ctx, w, web.Param(r, "id"), http.StatusOK)
			}, trace("route"))

			w := httptest.NewRecorder()
			app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/channels/abc", nil))

			if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != `"abc"` {
				t.Logf("\t%s\tTest %d:\tgot: %d %s", failed, testID, w.Code, w.Body.String())
				t.Fatalf("\t%s\tTest %d:\tShould respond with the route parameter.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould respond with the route parameter.", success, testID)

			if len(order) != 2 || order[0] != "app" || order[1] != "route" {
				t.Fatalf("\t%s\tTest %d:\tShould run app middleware first, got %v.", failed, testID, order)
			}
			t.Logf("\t%s\tTest %d:\tShould run app middleware first.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen a handler reports a shutdown error.", testID)
		{
			shutdown := make(chan os.Signal, 1)
			app := web.NewApp(shutdown)
			app.Handle(http.MethodGet, "", "/fail", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
				return web.NewShutdownError("integrity")
			})

			app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fail", nil))

			select {
			case <-shutdown:
				t.Logf("\t%s\tTest %d:\tShould signal shutdown.", success, testID)
			default:
				t.Fatalf("\t%s\tTest %d:\tShould signal shutdown.", failed, testID)
			}
		}
	}
}

func Test_Decode(t *testing.T) {
	t.Log("Given the need to decode request bodies.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the body is valid.", testID)
		{
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","epoch":1}`))

			var p payload
			if err := web.Decode(r, &p); err != nil || p.Name != "a" {
				t.Fatalf("\t%s\tTest %d:\tShould decode the body: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould decode the body.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the body fails validation.", testID)
		{
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"epoch":0}`))

			var p payload
			err := web.Decode(r, &p)
			fields := validate.GetFieldErrors(err)
			if len(fields) != 2 {
				t.Fatalf("\t%s\tTest %d:\tShould report both fields, got %v.", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould report both fields.", success, testID)

			if fields[0].Field != "name" {
				t.Fatalf("\t%s\tTest %d:\tShould use json field names, got %q.", failed, testID, fields[0].Field)
			}
			t.Logf("\t%s\tTest %d:\tShould use json field names.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the body has unknown fields.", testID)
		{
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","epoch":1,"x":2}`))

			var p payload
			if err := web.Decode(r, &p); err == nil || validate.IsFieldErrors(err) {
				t.Fatalf("\t%s\tTest %d:\tShould reject unknown fields: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould reject unknown fields.", success, testID)
		}
	}
}
