// forumd/handlers/render.go

package handlers

import (
	"bytes"
	"database/sql"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"forumd/config"
	"forumd/utils"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	templates *template.Template
)

// LoadTemplates parses all HTML files from the embedded templates directory.
func LoadTemplates() error {
	funcMap := template.FuncMap{
		"safeHTML":   func(s string) template.HTML { return template.HTML(s) },
		"formatTime": func(t time.Time) string { return t.Format("Jan 02, 2006, 15:04:05") },
		"formatNullTime": func(t sql.NullTime) string {
			if !t.Valid {
				return "Never"
			}
			return t.Time.Format("Jan 02, 2006, 15:04:05")
		},
		"formatISO": func(t time.Time) string { return t.Format(time.RFC3339) },
		"dict": func(values ...interface{}) (map[string]interface{}, error) {
			if len(values)%2 != 0 {
				return nil, fmt.Errorf("invalid dict call")
			}
			dict := make(map[string]interface{}, len(values)/2)
			for i := 0; i < len(values); i += 2 {
				key, ok := values[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict keys must be strings")
				}
				dict[key] = values[i+1]
			}
			return dict, nil
		},
		"default": func(dflt, val string) string {
			if val == "" {
				return dflt
			}
			return val
		},
		"add":      func(a, b int) int { return a + b },
		"subtract": func(a, b int) int { return a - b },
		"hasBit":   func(v, bit int) bool { return v&bit != 0 },
		"join":     strings.Join,
		"stripHTML": utils.StripTags,
		"truncate": func(max int, s string) string {
			return utils.Truncate(s, max)
		},
		"saLink":    saLink,
		"withQuery": withQuery,
	}
	t, err := template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}
	templates = t
	return nil
}

// render executes the given templates with the provided data.
func render(w http.ResponseWriter, r *http.Request, app App, layout, contentTmpl string, data map[string]interface{}) {
	renderStatus(w, r, app, http.StatusOK, layout, contentTmpl, data)
}

func renderStatus(w http.ResponseWriter, r *http.Request, app App, status int, layout, contentTmpl string, data map[string]interface{}) {
	logger := app.Logger().With("handler", "render")
	if data == nil {
		data = make(map[string]interface{})
	}

	data["AppVersion"] = config.AppVersion
	data["ForumName"] = config.ForumName
	data["DefaultTheme"] = config.DefaultTheme
	if csrfToken, ok := r.Context().Value(CSRFTokenKey).(string); ok {
		data["csrfToken"] = csrfToken
	}
	if m := currentMember(r); m != nil {
		data["CurrentMember"] = m
	}
	data["Perms"] = currentPerms(r)
	if _, ok := data["Msg"]; !ok {
		data["Msg"] = r.URL.Query().Get("msg")
	}
	ret := *r.URL
	q := ret.Query()
	q.Del("msg")
	ret.RawQuery = q.Encode()
	data["ReturnURL"] = ret.RequestURI()

	contentBuf := new(bytes.Buffer)
	if err := templates.ExecuteTemplate(contentBuf, contentTmpl, data); err != nil {
		logger.Error("Error rendering content template", "template", contentTmpl, "error", err)
		http.Error(w, "Failed to render page content", http.StatusInternalServerError)
		return
	}
	data["Content"] = template.HTML(contentBuf.String())

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, layout, data); err != nil {
		logger.Error("Error rendering layout template", "template", layout, "error", err)
	}
}

// renderError shows a plain error page with the given status.
func renderError(w http.ResponseWriter, r *http.Request, app App, status int, msg string) {
	if templates == nil {
		http.Error(w, msg, status)
		return
	}
	renderStatus(w, r, app, status, "layout.html", "error.html", map[string]interface{}{
		"Title":  http.StatusText(status),
		"Status": status,
		"Error":  msg,
	})
}

// saLink appends a subaction to a menu area link.
func saLink(href, sa string) string {
	sep := "?"
	if strings.Contains(href, "?") {
		sep = "&"
	}
	return href + sep + "sa=" + url.QueryEscape(sa)
}

// withQuery returns uri with key set to value, dropping any status message.
// Used for page and sort links that keep the current filters.
func withQuery(uri, key string, value interface{}) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	q := u.Query()
	q.Del("msg")
	q.Set(key, fmt.Sprint(value))
	u.RawQuery = q.Encode()
	return u.RequestURI()
}
