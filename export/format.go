// Package export builds downloadable copies of a member's data and runs the
// background workers that produce them.
package export

import (
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"time"

	"forumd/database"
	"forumd/models"

	"github.com/microcosm-cc/bluemonday"
)

// Supported output formats.
const (
	FormatXML  = "xml"
	FormatHTML = "html"
	FormatCSV  = "csv"
)

// Datatypes that can be included in an export.
const (
	DataProfile          = "profile"
	DataPosts            = "posts"
	DataPersonalMessages = "personal_messages"
)

var (
	Formats   = []string{FormatXML, FormatHTML, FormatCSV}
	Datatypes = []string{DataProfile, DataPosts, DataPersonalMessages}
)

var contentTypes = map[string]string{
	FormatXML:  "application/xml",
	FormatHTML: "text/html; charset=utf-8",
	FormatCSV:  "text/csv",
}

// ContentType returns the MIME type for a format.
func ContentType(format string) string {
	if ct, ok := contentTypes[format]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Data is everything gathered for one export.
type Data struct {
	MemberID         int64
	Generated        time.Time
	Profile          *database.ExportProfile
	Posts            []models.Message
	PersonalMessages []models.PersonalMessage
}

// Write renders data in the given format.
func Write(w io.Writer, format string, d *Data) error {
	switch format {
	case FormatXML:
		return writeXML(w, d)
	case FormatHTML:
		return writeHTML(w, d)
	case FormatCSV:
		return writeCSV(w, d)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// --- XML ---

type xmlExport struct {
	XMLName   xml.Name    `xml:"export"`
	Member    int64       `xml:"member,attr"`
	Generated string      `xml:"generated,attr"`
	Profile   *xmlProfile `xml:"profile,omitempty"`
	Posts     []xmlPost   `xml:"posts>post,omitempty"`
	Messages  []xmlPM     `xml:"personal_messages>message,omitempty"`
}

type xmlProfile struct {
	Name         string   `xml:"name"`
	DisplayName  string   `xml:"display_name"`
	Email        string   `xml:"email"`
	Registered   string   `xml:"registered"`
	Posts        int      `xml:"posts"`
	Groups       []string `xml:"groups>group"`
	Signature    string   `xml:"signature"`
	PersonalText string   `xml:"personal_text"`
	Website      string   `xml:"website"`
}

type xmlPost struct {
	ID      int64  `xml:"id,attr"`
	Topic   int64  `xml:"topic,attr"`
	Board   string `xml:"board"`
	Subject string `xml:"subject"`
	Time    string `xml:"time"`
	Body    string `xml:"body"`
}

type xmlPM struct {
	ID      int64  `xml:"id,attr"`
	From    string `xml:"from"`
	Subject string `xml:"subject"`
	Time    string `xml:"time"`
	Body    string `xml:"body"`
}

func writeXML(w io.Writer, d *Data) error {
	out := xmlExport{Member: d.MemberID, Generated: d.Generated.Format(time.RFC3339)}
	if p := d.Profile; p != nil {
		m := p.Member
		out.Profile = &xmlProfile{
			Name: m.Name, DisplayName: m.DisplayName, Email: m.Email,
			Registered: m.Registered.Format(time.RFC3339), Posts: m.Posts, Groups: p.Groups,
			Signature: m.Signature, PersonalText: m.PersonalText, Website: m.WebsiteURL,
		}
	}
	for _, msg := range d.Posts {
		out.Posts = append(out.Posts, xmlPost{
			ID: msg.ID, Topic: msg.TopicID, Board: msg.BoardName, Subject: msg.Subject,
			Time: msg.PosterTime.Format(time.RFC3339), Body: msg.Body,
		})
	}
	for _, pm := range d.PersonalMessages {
		out.Messages = append(out.Messages, xmlPM{
			ID: pm.ID, From: pm.FromName, Subject: pm.Subject, Time: pm.Time.Format(time.RFC3339), Body: pm.Body,
		})
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode xml export: %w", err)
	}
	return enc.Flush()
}

// --- CSV ---

// writeCSV writes one section per datatype; the first column names the section.
func writeCSV(w io.Writer, d *Data) error {
	cw := csv.NewWriter(w)
	if p := d.Profile; p != nil {
		m := p.Member
		cw.Write([]string{"profile", "name", "display_name", "email", "registered", "posts", "website"})
		cw.Write([]string{"profile", m.Name, m.DisplayName, m.Email, m.Registered.Format(time.RFC3339), strconv.Itoa(m.Posts), m.WebsiteURL})
	}
	if len(d.Posts) > 0 {
		cw.Write([]string{"posts", "id", "topic", "board", "subject", "time", "body"})
		for _, msg := range d.Posts {
			cw.Write([]string{"posts", strconv.FormatInt(msg.ID, 10), strconv.FormatInt(msg.TopicID, 10), msg.BoardName,
				msg.Subject, msg.PosterTime.Format(time.RFC3339), msg.Body})
		}
	}
	if len(d.PersonalMessages) > 0 {
		cw.Write([]string{"personal_messages", "id", "from", "subject", "time", "body"})
		for _, pm := range d.PersonalMessages {
			cw.Write([]string{"personal_messages", strconv.FormatInt(pm.ID, 10), pm.FromName, pm.Subject,
				pm.Time.Format(time.RFC3339), pm.Body})
		}
	}
	cw.Flush()
	return cw.Error()
}

// --- HTML ---

var bodyPolicy = bluemonday.UGCPolicy()

var htmlTemplate = template.Must(template.New("export").Funcs(template.FuncMap{
	"safe": func(s string) template.HTML {
		return template.HTML(bodyPolicy.Sanitize(s))
	},
	"date": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Data export</title></head>
<body>
<h1>Data export</h1>
<p>Generated {{date .Generated}}</p>
{{with .Profile}}
<h2>Profile</h2>
<dl>
<dt>Name</dt><dd>{{.Member.Name}}</dd>
<dt>Display name</dt><dd>{{.Member.DisplayName}}</dd>
<dt>Email</dt><dd>{{.Member.Email}}</dd>
<dt>Registered</dt><dd>{{date .Member.Registered}}</dd>
<dt>Posts</dt><dd>{{.Member.Posts}}</dd>
<dt>Groups</dt><dd>{{range $i, $g := .Groups}}{{if $i}}, {{end}}{{$g}}{{end}}</dd>
<dt>Signature</dt><dd>{{safe .Member.Signature}}</dd>
</dl>
{{end}}
{{if .Posts}}
<h2>Posts</h2>
{{range .Posts}}<article><h3>{{.Subject}}</h3><p><small>{{.BoardName}}, {{date .PosterTime}}</small></p><div>{{safe .Body}}</div></article>
{{end}}{{end}}
{{if .PersonalMessages}}
<h2>Personal messages</h2>
{{range .PersonalMessages}}<article><h3>{{.Subject}}</h3><p><small>From {{.FromName}}, {{date .Time}}</small></p><div>{{safe .Body}}</div></article>
{{end}}{{end}}
</body>
</html>
`))

func writeHTML(w io.Writer, d *Data) error {
	if err := htmlTemplate.Execute(w, d); err != nil {
		return fmt.Errorf("failed to render html export: %w", err)
	}
	return nil
}
