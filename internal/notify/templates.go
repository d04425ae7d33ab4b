package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"passwordless-auth/internal/model"
)

const (
	KindOTP       = "login_otp"
	KindMagicLink = "magic_link"
)

var (
	otpTemplate = template.Must(template.New("otp").Parse(
		"Your OTP for login is: {{.Code}}\n\nThis code expires in {{.Expiry}}."))

	magicLinkTemplate = template.Must(template.New("magic_link").Parse(
		"Click the link below to log in:\n\n{{.Link}}\n\nThis link expires in {{.Expiry}} and can be used once."))
)

// OTPMessage renders the login code mail.
func OTPMessage(code string, ttl time.Duration) (model.Message, error) {
	body, err := render(otpTemplate, map[string]string{"Code": code, "Expiry": humanize(ttl)})
	if err != nil {
		return model.Message{}, err
	}
	return model.Message{Kind: KindOTP, Subject: "Your Login OTP", Body: body}, nil
}

// MagicLinkMessage renders the login link mail.
func MagicLinkMessage(link string, ttl time.Duration) (model.Message, error) {
	body, err := render(magicLinkTemplate, map[string]string{"Link": link, "Expiry": humanize(ttl)})
	if err != nil {
		return model.Message{}, err
	}
	return model.Message{Kind: KindMagicLink, Subject: "Your Login Link", Body: body}, nil
}

func render(t *template.Template, data map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s message: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func humanize(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(d/time.Second), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
