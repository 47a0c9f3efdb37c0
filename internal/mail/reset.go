package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// ResetSubject is the subject line of password reset emails.
const ResetSubject = "Password Reset Request - Solace"

var resetTemplate = template.Must(template.New("reset").Parse(`<h2>Password Reset Request</h2>
<p>We received a request to reset the password of your Solace account. Use the link below to choose a new one:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>The link expires in {{.ValidFor}} and can only be used once.</p>
<p>If you did not ask for this, you can ignore this email and your password will stay the same.</p>
<p>Take care,<br>The Solace Team</p>
`))

// RenderResetEmail returns the HTML body of a password reset email.
func RenderResetEmail(link string, validFor time.Duration) (string, error) {
	var buf bytes.Buffer
	err := resetTemplate.Execute(&buf, struct {
		Link     template.URL
		ValidFor string
	}{Link: template.URL(link), ValidFor: humanDuration(validFor)})
	if err != nil {
		return "", fmt.Errorf("render reset email: %w", err)
	}
	return buf.String(), nil
}

func humanDuration(d time.Duration) string {
	plural := func(n int64, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s", unit)
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int64(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int64(d/time.Minute), "minute")
	default:
		return d.String()
	}
}
