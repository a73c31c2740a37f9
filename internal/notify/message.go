package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"voice-receptionist/internal/calls"
	"voice-receptionist/internal/tenants"
)

// Notification is everything a channel needs to tell a tenant about a call.
type Notification struct {
	Tenant       tenants.Tenant
	Call         calls.Call
	Summary      calls.Summary
	Transcript   string
	DashboardURL string
}

func (n Notification) caller() string {
	if n.Call.CallerPhone != "" {
		return n.Call.CallerPhone
	}
	return "Unknown caller"
}

// Duration formats the call length as "Xm Ys".
func (n Notification) Duration() string {
	d := n.Call.DurationSeconds
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%dm %ds", d/60, d%60)
}

func (n Notification) EmailSubject() string {
	return fmt.Sprintf("New call from %s - %s", n.caller(), n.Tenant.BusinessName)
}

var emailTemplate = template.Must(template.New("call").Parse(`<h2>New call for {{.Business}}</h2>
<table>
  <tr><td><strong>Caller</strong></td><td>{{.Caller}}</td></tr>
  <tr><td><strong>Phone</strong></td><td>{{.Phone}}</td></tr>
  <tr><td><strong>Duration</strong></td><td>{{.Duration}}</td></tr>
  <tr><td><strong>Status</strong></td><td>{{.Status}}</td></tr>
</table>
{{- if .Instructions}}
<h3>Special instructions</h3>
<p>{{.Instructions}}</p>
{{- end}}
<h3>AI summary</h3>
<p>{{.Summary}}</p>
{{- if .Callback}}
<p><strong>The caller asked for a callback.</strong></p>
{{- end}}
<h3>Full transcript</h3>
<pre>{{.Transcript}}</pre>
{{- if .Dashboard}}
<p><a href="{{.Dashboard}}">View in dashboard</a></p>
{{- end}}
`))

// EmailHTML renders the notification email body. All fields are escaped.
func (n Notification) EmailHTML() (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, map[string]any{
		"Business":     n.Tenant.BusinessName,
		"Caller":       n.caller(),
		"Phone":        n.Call.CallerPhone,
		"Duration":     n.Duration(),
		"Status":       string(n.Call.Status),
		"Instructions": strings.TrimSpace(n.Tenant.NotificationInstructions),
		"Summary":      n.Summary.Text,
		"Callback":     n.Summary.CallbackRequested,
		"Transcript":   n.Transcript,
		"Dashboard":    n.DashboardURL,
	})
	if err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

const smsSummaryRunes = 80

func (n Notification) SMSBody() string {
	var b strings.Builder
	fmt.Fprintf(&b, "New call for %s\nFrom: %s\nSummary: %s...", n.Tenant.BusinessName, n.caller(), truncate(n.Summary.Text, smsSummaryRunes))
	if n.DashboardURL != "" {
		fmt.Fprintf(&b, "\nView: %s", n.DashboardURL)
	}
	return b.String()
}
