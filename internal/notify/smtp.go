package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"siteeditor/api/internal/store"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends multipart HTML mail over SMTP.
type Mailer struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewMailer(config Config) *Mailer {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Mailer{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (m *Mailer) IsConfigured() bool {
	return m.config.Host != "" && m.config.Port != "" && m.config.From != ""
}

func (m *Mailer) SendHTML(to []string, subject, textBody, htmlBody string) error {
	if !m.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := m.config.From
	if m.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.config.FromName, m.config.From)
	}

	boundary := "boundary-siteeditor"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return m.send(m.server, m.auth, m.config.From, to, msg.Bytes())
}

type subjectLookup interface {
	GetSubject(context.Context, string) (store.Subject, error)
}

// EmailNotifier mails notifications to the subject's contact address.
type EmailNotifier struct {
	mailer   *Mailer
	subjects subjectLookup
	appName  string
}

func NewEmailNotifier(mailer *Mailer, subjects subjectLookup, appName string) *EmailNotifier {
	if appName == "" {
		appName = "Site Editor"
	}
	return &EmailNotifier{mailer: mailer, subjects: subjects, appName: appName}
}

type messageData struct {
	AppName     string
	SubjectName string
	Paragraphs  []string
}

func (n *EmailNotifier) Notify(ctx context.Context, note Notification) error {
	subject, err := n.subjects.GetSubject(ctx, note.SubjectID)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}
	if subject.ContactEmail == "" {
		return fmt.Errorf("subject %s has no contact email", note.SubjectID)
	}

	html, err := renderMessage(messageData{
		AppName:     n.appName,
		SubjectName: subject.Name,
		Paragraphs:  strings.Split(note.Message, "\n\n"),
	})
	if err != nil {
		return fmt.Errorf("render %s template: %w", note.Trigger, err)
	}

	if err := n.mailer.SendHTML([]string{subject.ContactEmail}, subjectLine(note.Trigger), note.Message, html); err != nil {
		return fmt.Errorf("send %s email: %w", note.Trigger, err)
	}
	return nil
}

var parsedMessageTemplate = template.Must(template.New("message").Parse(messageTemplate))

func renderMessage(data messageData) (string, error) {
	var buf bytes.Buffer
	if err := parsedMessageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const messageTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    {{if .SubjectName}}<p>Hi {{.SubjectName}},</p>{{end}}

    {{range .Paragraphs}}<p>{{.}}</p>
    {{end}}

    <div class="footer">
        <p>Reply to this email to confirm, undo, or request more changes.</p>
    </div>
</body>
</html>`
