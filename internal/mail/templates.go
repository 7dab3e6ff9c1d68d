package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

var verificationTemplate = template.Must(template.New("verification").Parse(`<html>
<body style="font-family: Arial, sans-serif; color: #212121;">
<h2>Verify Your Email</h2>
<p>Hello {{.Name}}, to verify your email, please click the following link:</p>
<p><a href="{{.Link}}" style="color: #0066cc; font-weight: bold;">Verify Email</a></p>
<p>This link expires in {{.ValidFor}}.</p>
<p>If you did not register, please ignore this email.</p>
</body>
</html>
`))

var resetTemplate = template.Must(template.New("reset").Parse(`<html>
<body style="font-family: Arial, sans-serif; color: #343a40;">
<h2>Password Reset Request</h2>
<p>To reset your password, please click the following link:</p>
<p><a href="{{.Link}}" style="color: #ff0000; font-weight: bold;">Reset Your Password</a></p>
<p>This link expires in {{.ValidFor}}.</p>
<p>If you did not make this request, please ignore this email.</p>
</body>
</html>
`))

type templateData struct {
	Name     string
	Link     string
	ValidFor string
}

// VerificationMessage はメールアドレス確認メールを生成する。
func VerificationMessage(to, name, link, validFor string) (Message, error) {
	body, err := render(verificationTemplate, templateData{Name: name, Link: link, ValidFor: validFor})
	if err != nil {
		return Message{}, err
	}
	return Message{To: []string{to}, Subject: "Verify Your Email", HTMLBody: body}, nil
}

// PasswordResetMessage はパスワードリセットメールを生成する。
func PasswordResetMessage(to, link, validFor string) (Message, error) {
	body, err := render(resetTemplate, templateData{Link: link, ValidFor: validFor})
	if err != nil {
		return Message{}, err
	}
	return Message{To: []string{to}, Subject: "Password Reset Request", HTMLBody: body}, nil
}

func render(t *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s mail: %w", t.Name(), err)
	}
	return buf.String(), nil
}
