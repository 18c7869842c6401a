// Package handlers manages the different versions of the API.
package handlers

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/m-peko/tetherion/app/services/node/handlers/private"
	"github.com/m-peko/tetherion/app/services/node/handlers/public"
	"github.com/m-peko/tetherion/business/web/errs"
	"github.com/m-peko/tetherion/business/web/mid"
	"github.com/m-peko/tetherion/foundation/blockchain/state"
	"github.com/m-peko/tetherion/foundation/events"
	"github.com/m-peko/tetherion/foundation/nameservice"
	"github.com/m-peko/tetherion/foundation/web"
	"go.uber.org/zap"
)

// MuxConfig contains all the mandatory systems required by handlers.
type MuxConfig struct {
	Shutdown chan os.Signal
	Log      *zap.SugaredLogger
	State    *state.State
	NS       *nameservice.NameService
	Evts     *events.Stream
	Origins  []string // Browser origins allowed on the public API.
}

// PublicMux constructs a http.Handler with all application routes defined.
func PublicMux(cfg MuxConfig) http.Handler {

	// Construct the web.App which holds all routes as well as common Middleware.
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Cors(cfg.Origins...),
		mid.Panics(),
	)

	// The route lets the router match preflight requests, Cors answers them.
	h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		return errs.NewTrusted(errors.New("origin not allowed"), http.StatusForbidden)
	}
	app.Handle(http.MethodOptions, "", "/*", h)

	public.Routes(app, public.Config{
		Log:   cfg.Log,
		State: cfg.State,
		NS:    cfg.NS,
		Evts:  cfg.Evts,
	})

	return app
}

// PrivateMux constructs a http.Handler with all node to node routes defined.
func PrivateMux(cfg MuxConfig) http.Handler {

	// Construct the web.App which holds all routes as well as common Middleware.
	app := web.NewApp(
		cfg.Shutdown,
		mid.Logger(cfg.Log),
		mid.Errors(cfg.Log),
		mid.Panics(),
	)

	private.Routes(app, private.Config{
		Log:   cfg.Log,
		State: cfg.State,
	})

	return app
}

// DebugMux registers all the debug routes from the standard library into a
// new mux bypassing the use of the DefaultServerMux. Using the
// DefaultServerMux would be a security risk since a dependency could inject
// a handler into our service without us knowing it.
func DebugMux() http.Handler {
	mux := http.NewServeMux()

	// Register all the standard library debug endpoints.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())

	return mux
}
