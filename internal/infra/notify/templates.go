package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"exodrive/internal/app/policies"
)

// Email is a rendered notification.
type Email struct {
	Subject string
	HTML    string
	Text    string
}

type newMessageView struct {
	policies.NewMessageNotification
	InboxURL string
}

var newMessageHTML = htmltemplate.Must(htmltemplate.New("new_message.html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2937;">
  <h2>Hi {{.RecipientName}},</h2>
  <p><strong>{{.SenderName}}</strong> sent you a message about <strong>{{.ListingTitle}}</strong>:</p>
  <blockquote style="border-left: 4px solid #2563eb; margin: 16px 0; padding: 8px 16px; background: #f3f4f6;">{{.MessageContent}}</blockquote>
  <p><a href="{{.InboxURL}}" style="background: #2563eb; color: #ffffff; padding: 10px 18px; border-radius: 6px; text-decoration: none;">Reply to the message</a></p>
  <p style="font-size: 12px; color: #6b7280;">You receive this email because you have a listing or an enquiry on Exodrive.</p>
</body>
</html>`))

var newMessageText = texttemplate.Must(texttemplate.New("new_message.txt").Parse(`Hi {{.RecipientName}},

{{.SenderName}} sent you a message about {{.ListingTitle}}:

{{.MessageContent}}

Reply here: {{.InboxURL}}
`))

// Render builds the email for a template name and its payload.
func Render(template string, data any, baseURL string) (Email, error) {
	switch template {
	case policies.TemplateNewMessage:
		payload, ok := data.(policies.NewMessageNotification)
		if !ok {
			return Email{}, fmt.Errorf("notify: %s expects NewMessageNotification, got %T", template, data)
		}
		view := newMessageView{NewMessageNotification: payload, InboxURL: baseURL + "/messages"}
		var html, text bytes.Buffer
		if err := newMessageHTML.Execute(&html, view); err != nil {
			return Email{}, fmt.Errorf("notify: render html: %w", err)
		}
		if err := newMessageText.Execute(&text, view); err != nil {
			return Email{}, fmt.Errorf("notify: render text: %w", err)
		}
		return Email{
			Subject: fmt.Sprintf("New message from %s about %s", payload.SenderName, payload.ListingTitle),
			HTML:    html.String(),
			Text:    text.String(),
		}, nil
	default:
		return Email{}, fmt.Errorf("notify: unknown template %q", template)
	}
}
