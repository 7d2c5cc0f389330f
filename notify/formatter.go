package notify

import (
	"fmt"
	"html"
	"time"
)

// FormatSubmissionEmail renders the HTML body announcing a newly stored
// form submission.
func FormatSubmissionEmail(formName, submitterName, email string, createdAt time.Time) string {
	if formName == "" {
		formName = "your form"
	}
	return fmt.Sprintf(
		`
			<h3>New submission on %s</h3>
			<br>
			<p>From: %s &lt;%s&gt;</p>
			<p>Submitted at: %s</p>
		`,
		html.EscapeString(formName),
		html.EscapeString(submitterName),
		html.EscapeString(email),
		createdAt.Format("2006-01-02 15:04:05"),
	)
}
