package cli

import (
	"fmt"
	"io"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-access/internal/routecap"
)

// ExitRouteFindings is returned when the route check reports findings.
const ExitRouteFindings = 10

// RouteChecker checks a router against the route permission table.
type RouteChecker interface {
	CheckRouter(router chi.Routes) (routecap.Report, error)
}

// RoutesCheckOptions defines flags for the routes check command.
type RoutesCheckOptions struct {
	Output
	Router  chi.Routes
	Checker RouteChecker
}

type routesCheckSummary struct {
	OK bool `json:"ok"`
	routecap.Report
}

// RoutesCheckCommand reports routes that would fall through to
// "no permission required" or whose override names an unknown permission.
func RoutesCheckCommand(opts RoutesCheckOptions) int {
	const name = "routes check"
	if opts.Router == nil || opts.Checker == nil {
		return opts.fail(name, "router and route table are required")
	}
	report, err := opts.Checker.CheckRouter(opts.Router)
	if err != nil {
		return opts.fail(name, "%v", err)
	}
	if report.Findings == nil {
		report.Findings = []routecap.Finding{}
	}
	code := opts.emit(name, routesCheckSummary{OK: report.OK(), Report: report}, func(w io.Writer) {
		_, _ = fmt.Fprintln(w, report.String())
	})
	if code == 0 && !report.OK() {
		return ExitRouteFindings
	}
	return code
}
