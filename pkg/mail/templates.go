package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

const productName = "Task Manager"

type actionContent struct {
	Product      string
	Name         string
	Intro        string
	Instructions string
	ButtonText   string
	Link         string
	Outro        string
}

var htmlLayout = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Helvetica, Arial, sans-serif; color: #51545e;">
  <h2>{{.Product}}</h2>
  <p>Hi {{.Name}},</p>
  <p>{{.Intro}}</p>
  <p>{{.Instructions}}</p>
  <p><a href="{{.Link}}" style="background-color: #22BC66; color: #ffffff; padding: 10px 18px; text-decoration: none; border-radius: 3px;">{{.ButtonText}}</a></p>
  <p>{{.Outro}}</p>
</body>
</html>
`))

var textLayout = texttemplate.Must(texttemplate.New("text").Parse(`Hi {{.Name}},

{{.Intro}}

{{.Instructions}}
{{.Link}}

{{.Outro}}

{{.Product}}
`))

func render(to, subject string, c actionContent) (Message, error) {
	c.Product = productName
	var html, text bytes.Buffer
	if err := htmlLayout.Execute(&html, c); err != nil {
		return Message{}, fmt.Errorf("render html: %w", err)
	}
	if err := textLayout.Execute(&text, c); err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}
	return Message{To: to, Subject: subject, HTML: html.String(), Text: text.String()}, nil
}

// VerificationEmail builds the email carrying an email verification link
func VerificationEmail(to, username, link string) (Message, error) {
	return render(to, "Verify your email address", actionContent{
		Name:         username,
		Intro:        "Welcome to Task Manager!",
		Instructions: "To get started with Task Manager, please verify your email address by clicking the button below:",
		ButtonText:   "Verify your email address",
		Link:         link,
		Outro:        "If you did not create an account, no further action is required.",
	})
}

// PasswordResetEmail builds the email carrying a password reset link
func PasswordResetEmail(to, username, link string) (Message, error) {
	return render(to, "Reset your password", actionContent{
		Name:         username,
		Intro:        "You have requested to reset your password.",
		Instructions: "To reset your password, please click the button below:",
		ButtonText:   "Reset your password",
		Link:         link,
		Outro:        "If you did not request a password reset, no further action is required.",
	})
}
