package web_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/m-peko/tetherion/foundation/validate"
	"github.com/m-peko/tetherion/foundation/web"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

type payload struct {
	Account string `json:"account" validate:"required,eth_addr"`
}

func Test_App(t *testing.T) {
	t.Log("Given the need to route requests through the app.")
	{
		shutdown := make(chan os.Signal, 1)

		var order []string
		mw := func(name string) web.Middleware {
			return func(handler web.Handler) web.Handler {
				return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
					order = append(order, name)
					return handler(ctx, w, r)
				}
			}
		}

		app := web.NewApp(shutdown, mw("app"))

		app.Handle(http.MethodGet, "v1", "/echo/:name", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			v, err := web.GetValues(ctx)
			if err != nil {
				return web.NewShutdownError("web value missing from context")
			}

			resp := struct {
				Name    string `json:"name"`
				TraceID string `json:"trace_id"`
			}{
				Name:    web.Param(r, "name"),
				TraceID: v.TraceID,
			}

			return web.Respond(ctx, w, resp, http.StatusOK)
		}, mw("route"))

		app.Handle(http.MethodPost, "v1", "/submit", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			var p payload
			if err := web.Decode(r, &p); err != nil {
				if validate.IsFieldErrors(err) {
					return web.Respond(ctx, w, validate.GetFieldErrors(err), http.StatusBadRequest)
				}
				return web.Respond(ctx, w, err.Error(), http.StatusBadRequest)
			}

			return web.Respond(ctx, w, nil, http.StatusNoContent)
		})

		app.Handle(http.MethodGet, "", "/fatal", func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			return web.NewShutdownError("integrity issue")
		})

		t.Log("\tWhen handling a GET with a path parameter.")
		{
			w := httptest.NewRecorder()
			app.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/echo/pavel", nil))

			var got struct {
				Name    string `json:"name"`
				TraceID string `json:"trace_id"`
			}
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("\t%s\tShould be able to decode the response: %v", failed, err)
			}

			if w.Code != http.StatusOK || got.Name != "pavel" || got.TraceID == "" {
				t.Fatalf("\t%s\tShould get the parameter and a trace id: %d %+v", failed, w.Code, got)
			}
			t.Logf("\t%s\tShould get the parameter and a trace id.", success)

			if strings.Join(order, ",") != "app,route" {
				t.Fatalf("\t%s\tShould run app middleware before route middleware: %v", failed, order)
			}
			t.Logf("\t%s\tShould run app middleware before route middleware.", success)
		}

		t.Log("\tWhen decoding a request body.")
		{
			w := httptest.NewRecorder()
			app.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(`{"account":"nope"}`)))

			var fields validate.FieldErrors
			if err := json.NewDecoder(w.Body).Decode(&fields); err != nil || w.Code != http.StatusBadRequest || len(fields) != 1 || fields[0].Field != "account" {
				t.Fatalf("\t%s\tShould report the field that failed validation: %d %v", failed, w.Code, fields)
			}
			t.Logf("\t%s\tShould report the field that failed validation.", success)

			w = httptest.NewRecorder()
			app.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(`{"account":"0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4","extra":1}`)))
			if w.Code != http.StatusBadRequest {
				t.Fatalf("\t%s\tShould reject unknown fields: %d", failed, w.Code)
			}
			t.Logf("\t%s\tShould reject unknown fields.", success)

			w = httptest.NewRecorder()
			app.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/submit", strings.NewReader(`{"account":"0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4"}`)))
			if w.Code != http.StatusNoContent {
				t.Fatalf("\t%s\tShould accept a valid body: %d", failed, w.Code)
			}
			t.Logf("\t%s\tShould accept a valid body.", success)
		}

		t.Log("\tWhen a handler reports an integrity issue.")
		{
			app.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fatal", nil))

			select {
			case <-shutdown:
				t.Logf("\t%s\tShould signal a shutdown.", success)
			default:
				t.Fatalf("\t%s\tShould signal a shutdown.", failed)
			}
		}
	}
}
