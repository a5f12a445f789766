package diagnostics

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"sync"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Overlay element ids.
const (
	PanelID   = "ux-fixer-debug-panel"
	ContentID = "debug-content"
)

// topMessages is how many messages per category the panel lists.
const topMessages = 3

// View is the presentational projection of a Report. It is rebuilt from
// scratch for every pass.
type View struct {
	ReportID   string
	URL        string
	Total      int
	Categories []CategoryView
	Stats      []StatLine

	// CacheErrors holds the latest cache validation failures, newest last.
	CacheErrors []string
	MoreCache   int
}

// CategoryView summarises one category.
type CategoryView struct {
	Name  string
	Count int
	Top   []string
	More  int
	Err   string
}

// StatLine is one label/value row of the status block.
type StatLine struct {
	Label string
	Value string
}

// NewView projects rep. Categories without findings or errors are left
// out.
func NewView(rep Report) View {
	v := View{ReportID: rep.ID, URL: rep.URL, Total: rep.Total}
	for _, cr := range rep.Categories {
		if len(cr.Issues) == 0 && cr.Err == "" {
			continue
		}
		cv := CategoryView{Name: string(cr.Category), Count: len(cr.Issues), Err: cr.Err}
		for i, is := range cr.Issues {
			if i == topMessages {
				cv.More = len(cr.Issues) - topMessages
				break
			}
			cv.Top = append(cv.Top, is.Message)
		}
		v.Categories = append(v.Categories, cv)
	}

	if n := len(rep.CacheErrors); n > topMessages {
		v.CacheErrors = rep.CacheErrors[n-topMessages:]
		v.MoreCache = n - topMessages
	} else {
		v.CacheErrors = rep.CacheErrors
	}

	s := rep.Stats
	v.Stats = []StatLine{
		{"Applied", yesNo(s.Initialized, "Yes", "No")},
		{"Observer", yesNo(s.ObserverActive, "Active", "Inactive")},
		{"Performance Mode", yesNo(s.PerformanceMode, "On", "Off")},
		{"Debug Mode", yesNo(s.DebugMode, "On", "Off")},
		{"Tweets Transformed", fmt.Sprint(s.TweetsTransformed)},
		{"Buttons Transformed", fmt.Sprint(s.ButtonsTransformed)},
		{"Labels Added", fmt.Sprint(s.LabelsAdded)},
		{"Promoted Hidden", fmt.Sprint(s.PromotedHidden)},
		{"Cache", fmt.Sprintf("%d hits, %d misses, %d applied, %d entries",
			s.CacheHits, s.CacheMisses, s.CacheApplied, rep.CacheSize)},
		{"Cache Validation Errors", fmt.Sprint(len(rep.CacheErrors))},
		{"Errors", fmt.Sprint(s.Errors)},
		{"Throttled Drops", fmt.Sprint(s.ThrottledDrops)},
		{"Scroll Events/s", fmt.Sprint(s.ScrollRate)},
		{"Diagnostics Passes", fmt.Sprint(s.DiagnosticsPasses)},
	}
	return v
}

func yesNo(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

var panelTmpl = template.Must(template.New("panel").Parse(`<div class="debug-title">UX Fixer Debug Panel</div>
<div id="debug-content">
{{- if .Total}}
<div class="debug-total">Issues Found: {{.Total}}</div>
{{- else}}
<div class="debug-total clean">Issues Found: 0</div>
{{- end}}
{{- range .Categories}}
<div class="debug-category">
<div class="debug-category-name">{{.Name}}: {{.Count}}</div>
{{- range .Top}}
<div class="debug-issue">{{.}}</div>
{{- end}}
{{- if .More}}
<div class="debug-more">... and {{.More}} more</div>
{{- end}}
{{- if .Err}}
<div class="debug-more">check failed: {{.Err}}</div>
{{- end}}
</div>
{{- end}}
{{- if not .Total}}
<div class="debug-total clean">No issues detected</div>
{{- end}}
{{- if .CacheErrors}}
<div class="debug-category">
<div class="debug-category-name">css-cache</div>
{{- range .CacheErrors}}
<div class="debug-issue">{{.}}</div>
{{- end}}
{{- if .MoreCache}}
<div class="debug-more">... and {{.MoreCache}} earlier</div>
{{- end}}
</div>
{{- end}}
<div class="debug-status">
<strong>UX Fixer Status</strong>
{{- range .Stats}}<br>{{.Label}}: {{.Value}}{{end}}
</div>
</div>
<div class="debug-footer">Press Ctrl+Shift+D to refresh</div>
`))

var reportTmpl = template.Must(template.New("report").Parse(`<h1>densefeed diagnostics</h1>
<p>Report {{.ReportID}} for {{.URL}}: {{.Total}} issues.</p>
{{- range .Categories}}
<h2>{{.Name}} ({{.Count}})</h2>
<ul>
{{- range .Top}}<li>{{.}}</li>{{end}}
{{- if .More}}<li>... and {{.More}} more</li>{{end}}
</ul>
{{- if .Err}}<p>Check failed: {{.Err}}</p>{{end}}
{{- end}}
{{- if .CacheErrors}}
<h2>css-cache</h2>
<ul>
{{- range .CacheErrors}}<li>{{.}}</li>{{end}}
</ul>
{{- end}}
<h2>Status</h2>
<table>
<thead><tr><th>Metric</th><th>Value</th></tr></thead>
<tbody>
{{- range .Stats}}<tr><td>{{.Label}}</td><td>{{.Value}}</td></tr>{{end}}
</tbody>
</table>
`))

var panelPolicy = sync.OnceValue(func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("div", "span", "strong", "br")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^[a-z -]+$`)).Globally()
	p.AllowAttrs("id").Matching(regexp.MustCompile(`^` + ContentID + `$`)).OnElements("div")
	return p
})

var mdConverter = sync.OnceValue(func() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
})

// PanelHTML renders the sanitized overlay markup for rep.
func PanelHTML(rep Report) (string, error) {
	var buf bytes.Buffer
	if err := panelTmpl.Execute(&buf, NewView(rep)); err != nil {
		return "", fmt.Errorf("diagnostics: render panel: %w", err)
	}
	return panelPolicy().Sanitize(buf.String()), nil
}

// Markdown renders rep as a Markdown document listing every category with
// findings and the status table.
func Markdown(rep Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, NewView(rep)); err != nil {
		return "", fmt.Errorf("diagnostics: render report: %w", err)
	}
	md, err := mdConverter().ConvertString(buf.String())
	if err != nil {
		return "", fmt.Errorf("diagnostics: markdown: %w", err)
	}
	return md, nil
}

func (e *Engine) renderPanel(rep Report) error {
	html, err := PanelHTML(rep)
	if err != nil {
		return err
	}
	if err := e.doc.RenderPanel(PanelID, html); err != nil {
		return fmt.Errorf("diagnostics: render panel: %w", err)
	}
	return nil
}
