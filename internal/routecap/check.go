package routecap

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Finding kinds reported by Check.
const (
	FindingDefaultAllow    = "default_allow"
	FindingUnknownOverride = "unknown_override"
)

// Finding is one route that needs attention.
type Finding struct {
	Route  string `json:"route"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// Report collects the findings of a consistency check.
type Report struct {
	Checked  int       `json:"checked"`
	Findings []Finding `json:"findings"`
}

// OK reports whether the check found nothing.
func (r Report) OK() bool { return len(r.Findings) == 0 }

func (r Report) String() string {
	if r.OK() {
		return fmt.Sprintf("routecap: %d routes checked, no findings", r.Checked)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "routecap: %d routes checked, %d findings", r.Checked, len(r.Findings))
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "\n  %s %s", f.Kind, f.Route)
		if f.Detail != "" {
			fmt.Fprintf(&b, " (%s)", f.Detail)
		}
	}
	return b.String()
}

// Check verifies that every route either has an override naming a catalog
// permission (or explicitly open), or derives a slug the catalog defines.
// Routes that would silently fall through to "no permission required" are
// reported.
func (m *Mapper) Check(routes []string) Report {
	seen := make(map[string]struct{}, len(routes))
	report := Report{}
	for _, route := range routes {
		key := normalizePath(route)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		report.Checked++
		if slug, ok := m.override(key); ok {
			if slug != "" && !m.catalog.Contains(slug) {
				report.Findings = append(report.Findings, Finding{Route: key, Kind: FindingUnknownOverride, Detail: string(slug)})
			}
			continue
		}
		candidate, ok := m.convention.Derive(key)
		if ok && m.catalog.Contains(candidate) {
			continue
		}
		detail := "no candidate"
		if ok {
			detail = "candidate " + string(candidate) + " not in catalog"
		}
		report.Findings = append(report.Findings, Finding{Route: key, Kind: FindingDefaultAllow, Detail: detail})
	}
	sort.Slice(report.Findings, func(i, j int) bool { return report.Findings[i].Route < report.Findings[j].Route })
	return report
}

// CheckRouter walks a chi router and checks every registered route.
func (m *Mapper) CheckRouter(router chi.Routes) (Report, error) {
	var routes []string
	err := chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, strings.TrimSuffix(route, "/*"))
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("routecap: walk routes: %w", err)
	}
	return m.Check(routes), nil
}
