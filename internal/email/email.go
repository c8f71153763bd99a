package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"

	"crm-backend/internal/config"

	"github.com/sirupsen/logrus"
)

var invitationTemplate = template.Must(template.New("invitation").Parse(`
		<html>
			<body>
				<h2>You have been invited to {{.Workspace}}</h2>
				<p>Create your account and enter the following invitation code:</p>
				<h1>{{.Code}}</h1>
				<p>If you were not expecting this, please ignore this email.</p>
			</body>
		</html>
`))

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailSender struct {
	config *config.Config
	log    logrus.FieldLogger
	send   sendFunc
}

func NewEmailSender(cfg *config.Config, log logrus.FieldLogger) *EmailSender {
	return &EmailSender{config: cfg, log: log.WithField("component", "email"), send: smtp.SendMail}
}

// BuildInvitation renders the invitation message with its headers.
func BuildInvitation(workspace, code string) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Subject: Your invitation to %s\n", workspace)
	buf.WriteString("MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n")
	if err := invitationTemplate.Execute(&buf, struct{ Workspace, Code string }{workspace, code}); err != nil {
		return nil, fmt.Errorf("render invitation: %w", err)
	}
	return buf.Bytes(), nil
}

// SendInvitation mails the sign-up invitation code for workspace to toEmail.
// Without SMTP credentials the message is only logged.
func (s *EmailSender) SendInvitation(toEmail, workspace, code string) error {
	message, err := BuildInvitation(workspace, code)
	if err != nil {
		return err
	}

	if s.config.SMTP.Email == "" || s.config.SMTP.Password == "" {
		s.log.WithField("to", toEmail).Info("SMTP credentials not set, invitation not sent")
		return nil
	}

	from := s.config.SMTP.Email
	host := s.config.SMTP.Host
	address := host + ":" + s.config.SMTP.Port
	auth := smtp.PlainAuth("", from, s.config.SMTP.Password, host)

	if err := s.send(address, auth, from, []string{toEmail}, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
