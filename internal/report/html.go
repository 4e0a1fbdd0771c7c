package report

import (
	"html/template"
	"io"
	"time"

	"github.com/sprite-ai/repolens/internal/insight"
	"github.com/sprite-ai/repolens/internal/model"
)

var funcs = template.FuncMap{
	"fix": insight.RenderFix,
	"op":  fixPrefix,
}

var dashboardTmpl = template.Must(template.New("dashboard").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>repolens: {{.D.Response.Project}}</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 960px; margin: 40px auto; padding: 0 20px; background: #282a36; color: #f8f8f2; }
  h1 { color: #bd93f9; }
  .meta { color: #6272a4; }
  .tiles { display: grid; grid-template-columns: repeat(4, 1fr); gap: 12px; margin: 24px 0; }
  .tile { background: #343746; padding: 16px; border-radius: 8px; }
  .tile .score { font-size: 2em; font-weight: bold; }
  .tier-error { color: #ff5555; }
  .tier-warning { color: #f1fa8c; }
  .tier-success { color: #50fa7b; }
  .tier-info { color: #8be9fd; }
  .card { background: #343746; padding: 12px 16px; border-radius: 8px; margin-bottom: 12px; border-left: 4px solid #44475a; }
  .card.tier-error { border-left-color: #ff5555; }
  .card.tier-warning { border-left-color: #f1fa8c; }
  .card.tier-success { border-left-color: #50fa7b; }
  .card h3 { margin: 0 0 6px; font-size: 1em; color: #f8f8f2; }
  .card p { color: #f8f8f2; }
  pre.fix { background: #21222c; padding: 8px; border-radius: 4px; }
  .add { color: #50fa7b; }
  .del { color: #ff5555; }
  footer { margin-top: 32px; color: #6272a4; font-size: 0.85em; }
</style>
</head>
<body>
<h1>{{.D.Response.Project}}</h1>
<p class="meta">Reviewed {{.Reviewed}} &middot; {{.D.Summary}}</p>
<div class="tiles">
{{- range .D.Tiles}}
  <div class="tile"><div>{{.Label}}</div><div class="score tier-{{.Band}}">{{.Score}}</div></div>
{{- end}}
</div>
{{- range .Sections}}
<h2>{{.Title}}</h2>
{{- range .Items}}
<div class="card tier-{{.Type}}"{{if .Line}} data-line="{{.Line}}"{{end}}>
  <h3>{{.Title}}</h3>
  <p>{{.Description}}</p>
  {{- if .Suggestions}}
  <ul>{{range .Suggestions}}<li>{{.}}</li>{{end}}</ul>
  {{- end}}
  {{- range .Fixes}}{{if .DiffExample}}
  <div>{{.Title}}</div>
  <pre class="fix">{{range fix .}}<span class="{{if eq (op .Op) "+"}}add{{else if eq (op .Op) "-"}}del{{end}}">{{op .Op}}{{.Text}}</span>
{{end}}</pre>
  {{- end}}{{end}}
</div>
{{- end}}
{{- end}}
<footer>Generated by <strong>repolens</strong></footer>
</body>
</html>
`))

type section struct {
	Title string
	Items []model.InsightItem
}

func writeHTML(w io.Writer, d *insight.Dashboard, now time.Time) error {
	data := struct {
		D        *insight.Dashboard
		Reviewed string
		Sections []section
	}{
		D:        d,
		Reviewed: RelativeTime(d.Response.CreatedAt, now),
	}
	for _, b := range model.Buckets {
		data.Sections = append(data.Sections, section{Title: b.Label(), Items: d.Buckets[b]})
	}
	return dashboardTmpl.Execute(w, data)
}
