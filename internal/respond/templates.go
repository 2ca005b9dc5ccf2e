package respond

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/hookbot/hookbot/internal/event"
	"github.com/hookbot/hookbot/internal/similar"
)

// Template names that are not action keys.
const (
	TemplateWelcome       = "welcome"
	TemplateSimilar       = "similar"
	TemplateBranchMissing = "branch missing"
)

// DefaultTemplates holds the comment bodies, keyed by template name or
// action key. Every template may reference .Media, which is empty when no
// clip was found.
var DefaultTemplates = map[string]string{
	TemplateWelcome: "Thanks for opening this {{.Kind}}, @{{.Author}}! " +
		"A maintainer will take a look soon.\n\n{{.Media}}",
	TemplateSimilar: "Hi @{{.Author}}, this {{.Kind}} looks similar to:\n\n" +
		"{{range .Items}}- #{{.Number}} {{.Title}}\n{{end}}\n" +
		"Please check whether one of these already covers it.\n\n{{.Media}}",
	TemplateBranchMissing: "Received a push without a branch reference, " +
		"so the updated branch could not be determined. Please check the webhook configuration.",

	string(event.BranchUpdated):      "Branch `{{.Branch}}` was updated.\n\n{{.Media}}",
	string(event.MergeSuccessful):    "Merge successful! Thanks for the contribution, @{{.Author}}.\n\n{{.Media}}",
	string(event.MergeConflict):      "This pull request has merge conflicts. Please rebase or resolve them.\n\n{{.Media}}",
	string(event.Approved):           "This pull request has been approved.\n\n{{.Media}}",
	string(event.IssueResolved):      "This has been marked as resolved.\n\n{{.Media}}",
	string(event.Deployed):           "Deployment successful{{if .Environment}} to `{{.Environment}}`{{end}}!{{if .TargetURL}} {{.TargetURL}}{{end}}\n\n{{.Media}}",
	string(event.DeploymentCanceled): "Deployment{{if .Environment}} to `{{.Environment}}`{{end}} was canceled.\n\n{{.Media}}",
	string(event.CodeStyle):          "Code style checks have finished. Please review the check results.\n\n{{.Media}}",
}

// commentData is what templates render against.
type commentData struct {
	Author      string
	Kind        string
	Number      int
	Title       string
	Branch      string
	Environment string
	TargetURL   string
	Items       []similar.Item
	Media       string
}

type renderer struct {
	tmpl   *template.Template
	width  int
	height int
}

// newRenderer parses the defaults overlaid with overrides.
func newRenderer(overrides map[string]string, width, height int) (*renderer, error) {
	root := template.New("comments").Option("missingkey=zero")
	for name, body := range DefaultTemplates {
		if o, ok := overrides[name]; ok {
			body = o
		}
		if _, err := root.New(name).Parse(body); err != nil {
			return nil, fmt.Errorf("parse template %q: %w", name, err)
		}
	}
	for name, body := range overrides {
		if _, ok := DefaultTemplates[name]; ok {
			continue
		}
		if _, err := root.New(name).Parse(body); err != nil {
			return nil, fmt.Errorf("parse template %q: %w", name, err)
		}
	}
	return &renderer{tmpl: root, width: width, height: height}, nil
}

func (r *renderer) render(name string, data commentData) (string, error) {
	var b strings.Builder
	if err := r.tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("render %q: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// mediaBlock embeds the clip sized to the configured dimensions with an
// attribution line.
func (r *renderer) mediaBlock(url, term string) string {
	if url == "" {
		return ""
	}
	return fmt.Sprintf("<img src=%q alt=%q width=\"%d\" height=\"%d\">\n\n<sub>Via Tenor</sub>", url, term, r.width, r.height)
}
