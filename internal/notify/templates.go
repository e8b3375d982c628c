package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"
)

const (
	SubjectOTP     = "Your verification code"
	SubjectReset   = "Reset your password"
	SubjectWelcome = "Welcome aboard"
)

var templates = template.Must(template.New("emails").Parse(`
{{define "layout_start"}}<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;background:#f6f7f9;padding:24px">
<div style="max-width:520px;margin:0 auto;background:#ffffff;border-radius:8px;padding:32px">{{end}}
{{define "layout_end"}}<p style="color:#888;font-size:12px;margin-top:32px">If you did not request this, you can ignore this email.</p></div></body></html>{{end}}

{{define "otp"}}{{template "layout_start"}}
<h2 style="margin-top:0">Verify your email</h2>
<p>Use the code below to sign in. It expires in {{.Minutes}} minutes.</p>
<p style="font-size:32px;letter-spacing:8px;font-weight:bold;text-align:center">{{.Code}}</p>
{{template "layout_end"}}{{end}}

{{define "reset"}}{{template "layout_start"}}
<h2 style="margin-top:0">Reset your password</h2>
<p>Follow the link below to choose a new password. It expires in {{.Minutes}} minutes.</p>
<p style="text-align:center"><a href="{{.Link}}" style="background:#1a73e8;color:#fff;padding:12px 24px;border-radius:4px;text-decoration:none">Reset password</a></p>
<p style="word-break:break-all;color:#555">{{.Link}}</p>
{{template "layout_end"}}{{end}}

{{define "welcome"}}{{template "layout_start"}}
<h2 style="margin-top:0">Welcome, {{.Name}}!</h2>
<p>Your account is ready. Sign in any time with your password or a one-time code sent to this address.</p>
{{template "layout_end"}}{{end}}
`))

// Mailer renders the account emails and passes them to a Notifier.
type Mailer struct {
	notifier Notifier
}

func NewMailer(notifier Notifier) *Mailer {
	return &Mailer{notifier: notifier}
}

func (m *Mailer) SendOTP(ctx context.Context, to, code string, validFor time.Duration) Result {
	body, err := render("otp", map[string]interface{}{
		"Code":    code,
		"Minutes": minutes(validFor),
	})
	if err != nil {
		return failed(err)
	}
	return m.notifier.Send(ctx, to, SubjectOTP, body)
}

func (m *Mailer) SendPasswordReset(ctx context.Context, to, link string, validFor time.Duration) Result {
	body, err := render("reset", map[string]interface{}{
		"Link":    template.URL(link),
		"Minutes": minutes(validFor),
	})
	if err != nil {
		return failed(err)
	}
	return m.notifier.Send(ctx, to, SubjectReset, body)
}

func (m *Mailer) SendWelcome(ctx context.Context, to, name string) Result {
	body, err := render("welcome", map[string]interface{}{"Name": name})
	if err != nil {
		return failed(err)
	}
	return m.notifier.Send(ctx, to, SubjectWelcome, body)
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s email: %w", name, err)
	}
	return buf.String(), nil
}

func minutes(d time.Duration) int {
	m := int(d / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}
