// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

const appName = "Refery"

var ErrNotConfigured = errors.New("email not configured")

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

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendHTMLEmail sends a multipart email with a plain-text fallback.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(to) == 0 {
		return errors.New("no recipients")
	}
	for _, addr := range to {
		if strings.ContainsAny(addr, "\r\n") {
			return fmt.Errorf("invalid recipient %q", addr)
		}
	}
	subject = strings.NewReplacer("\r", " ", "\n", " ").Replace(subject)

	boundary := "boundary-refery"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
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

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type VerificationData struct {
	AppName         string
	UserName        string
	VerificationURL string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

type ReferralReceivedData struct {
	AppName       string
	PosterName    string
	ReferrerName  string
	CandidateName string
	JobTitle      string
	ReferralURL   string
}

type StatusChangedData struct {
	AppName       string
	UserName      string
	CandidateName string
	JobTitle      string
	Status        string
	Note          string
	ReferralURL   string
}

type PayoutPaidData struct {
	AppName       string
	UserName      string
	Amount        string
	JobTitle      string
	CandidateName string
	Reference     string
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := VerificationData{AppName: appName, UserName: userName, VerificationURL: verificationURL}
	return s.sendTemplate(to, "Verify your Refery account", verificationEmailTemplate, data,
		fmt.Sprintf("Hi %s, verify your email address: %s", userName, verificationURL))
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := PasswordResetData{AppName: appName, UserName: userName, ResetURL: resetURL}
	return s.sendTemplate(to, "Reset your Refery password", passwordResetEmailTemplate, data,
		fmt.Sprintf("Hi %s, reset your password within 1 hour: %s", userName, resetURL))
}

// SendReferralReceived tells a poster a candidate was referred to their job.
func (s *Service) SendReferralReceived(to string, data ReferralReceivedData) error {
	data.AppName = appName
	subject := fmt.Sprintf("New candidate for %s", data.JobTitle)
	return s.sendTemplate(to, subject, referralReceivedTemplate, data,
		fmt.Sprintf("%s was referred for %s. Review: %s", data.CandidateName, data.JobTitle, data.ReferralURL))
}

// SendStatusChanged tells a referrer or candidate their referral moved.
func (s *Service) SendStatusChanged(to string, data StatusChangedData) error {
	data.AppName = appName
	subject := fmt.Sprintf("%s: %s is now %s", data.JobTitle, data.CandidateName, data.Status)
	return s.sendTemplate(to, subject, statusChangedTemplate, data,
		fmt.Sprintf("The referral of %s for %s is now %s.", data.CandidateName, data.JobTitle, data.Status))
}

func (s *Service) SendPayoutPaid(to string, data PayoutPaidData) error {
	data.AppName = appName
	subject := fmt.Sprintf("Your %s referral reward was paid", data.Amount)
	return s.sendTemplate(to, subject, payoutPaidTemplate, data,
		fmt.Sprintf("We paid %s for referring %s to %s. Reference %s.", data.Amount, data.CandidateName, data.JobTitle, data.Reference))
}

func (s *Service) sendTemplate(to, subject, tmpl string, data any, text string) error {
	html, err := renderTemplate(tmpl, data)
	if err != nil {
		return fmt.Errorf("render %q template: %w", subject, err)
	}
	return s.SendHTMLEmail([]string{to}, subject, text, html)
}

func renderTemplate(tmpl string, data any) (string, error) {
	t, err := template.New("email").Parse(layoutTemplate + tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const layoutTemplate = `{{define "layout"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0f766e; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0f766e; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0f766e; }
        .warning { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>
    {{template "content" .}}
</body>
</html>{{end}}`

const verificationEmailTemplate = `{{define "content"}}
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Thank you for signing up. Please verify your email address to activate your account.</p>
    <p><a href="{{.VerificationURL}}" class="button">Verify Email Address</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.VerificationURL}}</p>
    <p>This verification link will expire in 24 hours.</p>
    <div class="footer">
        <p>If you didn't create an account with {{.AppName}}, you can safely ignore this email.</p>
    </div>
{{end}}`

const passwordResetEmailTemplate = `{{define "content"}}
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password. Click the button below to create a new password:</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ResetURL}}</p>
    <div class="warning">
        <strong>Important:</strong> This reset link will expire in 1 hour.
    </div>
    <div class="footer">
        <p>If you didn't request a password reset, you can safely ignore this email. Your password will remain unchanged.</p>
    </div>
{{end}}`

const referralReceivedTemplate = `{{define "content"}}
    <h2>New referral for {{.JobTitle}}</h2>
    <p>Hi {{.PosterName}},</p>
    <p>{{if .ReferrerName}}{{.ReferrerName}} referred {{.CandidateName}}{{else}}{{.CandidateName}} applied{{end}} for <strong>{{.JobTitle}}</strong>.</p>
    <p><a href="{{.ReferralURL}}" class="button">Review Candidate</a></p>
{{end}}`

const statusChangedTemplate = `{{define "content"}}
    <h2>Referral update</h2>
    <p>Hi {{.UserName}},</p>
    <p>{{.CandidateName}}'s referral for <strong>{{.JobTitle}}</strong> is now <strong>{{.Status}}</strong>.</p>
    {{if .Note}}<p>Note from the hiring team: {{.Note}}</p>{{end}}
    <p><a href="{{.ReferralURL}}" class="button">View Referral</a></p>
{{end}}`

const payoutPaidTemplate = `{{define "content"}}
    <h2>Reward paid</h2>
    <p>Hi {{.UserName}},</p>
    <p>We paid <strong>{{.Amount}}</strong> for referring {{.CandidateName}} to {{.JobTitle}}.</p>
    <p>Reference: {{.Reference}}</p>
{{end}}`
