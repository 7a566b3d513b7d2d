package notify

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/mailpipe/internal/domain"
)

// Message is a rendered completion notice.
type Message struct {
	Subject string
	Body    string
}

var bodyTemplate = template.Must(template.New("body").Parse(`Processing finished for "{{.Email.Subject}}".

{{.Summary.Completed}} of {{.Summary.Total}} attachment(s) extracted, {{.Summary.Failed}} failed, {{.Summary.Cancelled}} cancelled ({{printf "%.2f" .Summary.SuccessRate}}% success).
{{range .Outcomes}}
- {{.Filename}} [{{.Status}}]{{if .ErrorMessage}}: {{.ErrorMessage}}{{end}}{{end}}
`))

// Render builds the subject and plain text body of a completion notice.
func Render(email domain.EmailInfo, summary domain.CompletionSummary, outcomes []domain.TaskOutcome) (Message, error) {
	var body strings.Builder
	err := bodyTemplate.Execute(&body, struct {
		Email    domain.EmailInfo
		Summary  domain.CompletionSummary
		Outcomes []domain.TaskOutcome
	}{email, summary, outcomes})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render completion notice: %w", err)
	}

	subject := fmt.Sprintf("Processed: %s", email.Subject)
	if summary.Failed > 0 {
		subject = fmt.Sprintf("Processed with %d failure(s): %s", summary.Failed, email.Subject)
	}
	return Message{Subject: subject, Body: body.String()}, nil
}
