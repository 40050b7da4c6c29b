package portal

import (
	"html/template"
	"net/http"

	"github.com/muurk/remoteupdate/internal/firmware"
)

type pageData struct {
	Action string
	Error  string
	Staged *firmware.Image
}

var pageTemplate = template.Must(template.New("upload").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Firmware Update</title></head>
<body>
{{- if .Staged}}
<p>Update Success! Rebooting...</p>
<p>{{.Staged.Name}} ({{.Staged.SizeBytes}} bytes, sha256 {{.Staged.SHA256}})</p>
{{- else}}
{{- if .Error}}
<p>Update error: {{.Error}}</p>
{{- end}}
<form method="POST" action="{{.Action}}" enctype="multipart/form-data">
Firmware:<br>
<input type="file" accept=".bin,.bin.gz" name="firmware">
<input type="submit" value="Update Firmware">
</form>
{{- end}}
</body>
</html>
`))

func renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, data)
}
