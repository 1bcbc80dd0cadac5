package main

import "text/template"

var markdownTemplate = template.Must(template.New("markdownTemplate").Parse(
	`
# {{ .Catalog }}
## {{ .Item.Name }}
{{ if .Item.URL -}}
[Product Page]({{ .Item.URL }})
{{- end }}

{{ if .Summary.HasHistory -}}
Current price: {{ .Summary.Current.FormattedPrice "$" }} (since {{ .Summary.Current.Start }})

Lowest price: {{ .Summary.Lowest.FormattedPrice "$" }} ({{ .Summary.Lowest.Start }} to {{ .Summary.Lowest.End }})

| From | To | Price |
|------|----|-------|
{{ range .Item.History.Entries -}}
| {{ .Start }} | {{ .End }} | {{ .FormattedPrice "$" }} |
{{ end -}}
{{ else -}}
No prices recorded yet.
{{- end }}
`,
))
