// Package routecap maps route paths to the permission they require, through an
// explicit override table backed by a naming convention.
package routecap

import (
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-access/internal/rbac"
)

// DefaultTemplate joins the resource path and the action with a dot.
const DefaultTemplate = "{resource}.{action}"

const defaultAction = "view"

// verbs maps trailing path segments to the action they stand for.
var verbs = map[string]string{
	"view":    "view",
	"show":    "view",
	"list":    "view",
	"create":  "create",
	"new":     "create",
	"edit":    "edit",
	"update":  "edit",
	"delete":  "delete",
	"destroy": "delete",
	"remove":  "delete",
	"export":  "export",
	"import":  "import",
	"approve": "approve",
}

// Convention derives candidate slugs from paths.
type Convention struct {
	// Template uses {resource} and {action} placeholders.
	Template string
	// Prefix is stripped from paths before derivation, e.g. "/api".
	Prefix string
}

// Derive turns a path into a candidate slug. Parameter and identifier
// segments are dropped, a trailing verb becomes the action (default "view")
// and the remaining segments, dot-joined, form the resource.
func (c Convention) Derive(path string) (rbac.Slug, bool) {
	path = strings.ToLower(strings.TrimSpace(path))
	if prefix := strings.ToLower(strings.TrimRight(c.Prefix, "/")); prefix != "" {
		if path == prefix {
			return "", false
		}
		path = strings.TrimPrefix(path, prefix+"/")
	}
	var statics []string
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || isParam(seg) || isIdentifier(seg) {
			continue
		}
		statics = append(statics, seg)
	}
	if len(statics) == 0 {
		return "", false
	}
	action := defaultAction
	if verb, ok := verbs[statics[len(statics)-1]]; ok {
		action = verb
		statics = statics[:len(statics)-1]
	}
	if len(statics) == 0 {
		return "", false
	}
	tmpl := c.Template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	candidate := strings.NewReplacer("{resource}", strings.Join(statics, "."), "{action}", action).Replace(tmpl)
	slug, err := rbac.ParseSlug(candidate)
	if err != nil {
		return "", false
	}
	return slug, true
}

func isParam(seg string) bool {
	return strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") || seg == "*"
}

func isIdentifier(seg string) bool {
	if _, err := uuid.Parse(seg); err == nil {
		return true
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
