package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/resend/resend-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exodrive/internal/app/policies"
)

type fakeEmails struct {
	err  error
	sent []*resend.SendEmailRequest
}

func (f *fakeEmails) SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params)
	return &resend.SendEmailResponse{Id: "email-1"}, nil
}

var sample = policies.NewMessageNotification{
	RecipientName:  "Alice",
	SenderName:     "Bob",
	ListingID:      "L123",
	ListingTitle:   "Volvo XC60",
	MessageContent: "Is it <still> available?",
}

func TestRenderNewMessage(t *testing.T) {
	email, err := Render(policies.TemplateNewMessage, sample, "https://exodrive.dk")
	require.NoError(t, err)
	assert.Equal(t, "New message from Bob about Volvo XC60", email.Subject)
	assert.Contains(t, email.HTML, "Is it &lt;still&gt; available?")
	assert.Contains(t, email.HTML, `href="https://exodrive.dk/messages"`)
	assert.True(t, strings.HasPrefix(email.Text, "Hi Alice,"))
	assert.Contains(t, email.Text, "Is it <still> available?")
}

func TestRenderRejectsUnknownInput(t *testing.T) {
	_, err := Render("password_reset", sample, "")
	assert.Error(t, err)
	_, err = Render(policies.TemplateNewMessage, "not a payload", "")
	assert.Error(t, err)
}

func TestEmailNotifierSend(t *testing.T) {
	emails := &fakeEmails{}
	n := &EmailNotifier{Emails: emails, From: "Exodrive <noreply@exodrive.dk>", BaseURL: "https://exodrive.dk"}

	require.NoError(t, n.Send(context.Background(), "alice@example.com", policies.TemplateNewMessage, sample))
	require.Len(t, emails.sent, 1)
	assert.Equal(t, []string{"alice@example.com"}, emails.sent[0].To)
	assert.Equal(t, "Exodrive <noreply@exodrive.dk>", emails.sent[0].From)
	assert.NotEmpty(t, emails.sent[0].Html)
}

func TestEmailNotifierPropagatesProviderError(t *testing.T) {
	n := &EmailNotifier{Emails: &fakeEmails{err: errors.New("429 from provider")}}
	err := n.Send(context.Background(), "alice@example.com", policies.TemplateNewMessage, sample)
	assert.ErrorContains(t, err, "429 from provider")
}

func TestNewFallsBackToLogNotifier(t *testing.T) {
	n := New("", "from", "", nil)
	_, ok := n.(LogNotifier)
	assert.True(t, ok)
	assert.NoError(t, n.Send(context.Background(), "a@b.c", policies.TemplateNewMessage, sample))

	_, ok = New("re_123", "from", "", nil).(*EmailNotifier)
	assert.True(t, ok)
}
