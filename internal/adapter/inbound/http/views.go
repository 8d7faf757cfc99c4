package http

import (
	"fmt"
	"net/http"

	"github.com/keygate-dev/keygate/internal/domain/principal"
	"github.com/keygate-dev/keygate/internal/domain/session"
	"github.com/keygate-dev/keygate/internal/guard"
	"github.com/keygate-dev/keygate/internal/service"
)

// view describes one console page and the requirement to reach it.
type view struct {
	pattern string
	title   string
	req     guard.Requirement
}

// consoleViews is the route table. The dashboard only needs a signed-in
// user; every other view is gated on its capability. The users view is
// additionally restricted to administrators.
var consoleViews = []view{
	{pattern: "GET /{$}", title: "Dashboard"},
	{pattern: "GET /apps", title: "Applications", req: guard.Require("apps", "read")},
	{pattern: "GET /licenses", title: "Licenses", req: guard.Require("licenses", "read")},
	{pattern: "GET /devices", title: "Devices", req: guard.Require("devices", "read")},
	{pattern: "GET /backups", title: "Backups", req: guard.Require("backups", "read")},
	{pattern: "GET /users", title: "Users", req: guard.Requirement{
		Capability: principal.Cap("users", "read"),
		MinRole:    principal.RoleAdmin,
	}},
	{pattern: "GET /profile", title: "Profile"},
}

// registerViews mounts the guarded console views on the mux.
func registerViews(mux *http.ServeMux, g *guard.Guard, sessions *service.SessionManager) {
	for _, v := range consoleViews {
		mux.Handle(v.pattern, g.Protect(v.req)(viewHandler(v, sessions)))
	}
}

// viewHandler renders a minimal page for the view. Sections the principal
// cannot reach are left out of the navigation entirely.
func viewHandler(v view, sessions *service.SessionManager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := sessions.Snapshot()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<!doctype html><title>%s</title>", v.title)
		fmt.Fprint(w, renderNav(snap))
		fmt.Fprintf(w, "<h1>%s</h1>", v.title)
		if v.pattern == "GET /profile" && snap.Principal != nil {
			fmt.Fprintf(w, "<p>%s (%s)</p>", snap.Principal.DisplayName, snap.Principal.Role)
		}
	})
}

// renderNav builds the navigation bar, hiding links the principal is not
// allowed to follow.
func renderNav(snap service.Snapshot) string {
	if snap.Status != session.StatusAuthenticated {
		return ""
	}
	nav := `<nav><a href="/">Dashboard</a>`
	for _, v := range consoleViews[1:] {
		path := v.pattern[len("GET "):]
		link := fmt.Sprintf(` <a href=%q>%s</a>`, path, v.title)
		nav += guard.RenderIf(snap, v.req, link, "")
	}
	return nav + `</nav>`
}
