package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"crm-backend/internal/config"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildInvitationEscapesWorkspaceName(t *testing.T) {
	msg, err := BuildInvitation("Acme <Solar>", "CRM-2024")
	require.NoError(t, err)

	body := string(msg)
	assert.True(t, strings.HasPrefix(body, "Subject: Your invitation to Acme <Solar>\n"))
	assert.Contains(t, body, "Acme &lt;Solar&gt;")
	assert.Contains(t, body, "<h1>CRM-2024</h1>")
}

func TestSendInvitation(t *testing.T) {
	cfg := config.New()
	cfg.SMTP = config.SMTPConfig{Host: "smtp.test", Port: "587", Email: "crm@test.com", Password: "pw"}
	log, _ := test.NewNullLogger()
	s := NewEmailSender(cfg, log)

	var gotAddr string
	var gotTo []string
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo = addr, to
		return nil
	}
	require.NoError(t, s.SendInvitation("ana@test.com", "Acme", "CRM-2024"))
	assert.Equal(t, "smtp.test:587", gotAddr)
	assert.Equal(t, []string{"ana@test.com"}, gotTo)

	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	assert.ErrorContains(t, s.SendInvitation("ana@test.com", "Acme", "CRM-2024"), "refused")
}

func TestSendInvitationWithoutCredentialsOnlyLogs(t *testing.T) {
	cfg := config.New()
	cfg.SMTP = config.SMTPConfig{}
	log, hook := test.NewNullLogger()
	s := NewEmailSender(cfg, log)
	s.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send called without credentials")
		return nil
	}

	require.NoError(t, s.SendInvitation("ana@test.com", "Acme", "CRM-2024"))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "ana@test.com", hook.LastEntry().Data["to"])
}
