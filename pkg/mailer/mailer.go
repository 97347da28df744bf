/**
 * @description
 * This package sends voucher delivery emails over SMTP. It builds a small HTML
 * message carrying the serial/PIN pair and the result-checking portal link, and
 * submits it through the configured SMTP relay with plain authentication.
 *
 * @dependencies
 * - fmt, net/smtp, strings: Standard Go libraries.
 */
package mailer

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Mailer holds SMTP relay settings for outbound voucher emails.
type Mailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// New creates a Mailer for the given SMTP relay.
func New(host string, port int, username, password, from string) *Mailer {
	return &Mailer{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
	}
}

// VoucherEmail is the content of one voucher delivery email.
type VoucherEmail struct {
	To             string
	ExamType       string
	Serial         string
	PIN            string
	Reference      string
	ResultCheckURL string
}

// SendVoucher sends the voucher email. Blocking; callers run it from the
// delivery worker, never from a request handler.
func (m *Mailer) SendVoucher(email VoucherEmail) error {
	if email.To == "" {
		return fmt.Errorf("empty recipient address")
	}

	subject := fmt.Sprintf("Your %s Results Checker Voucher", email.ExamType)
	body := buildVoucherBody(email)

	var msg strings.Builder
	msg.WriteString("From: " + m.From + "\r\n")
	msg.WriteString("To: " + email.To + "\r\n")
	msg.WriteString("Subject: " + subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	auth := smtp.PlainAuth("", m.Username, m.Password, m.Host)
	if err := smtp.SendMail(addr, auth, m.From, []string{email.To}, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send voucher email: %w", err)
	}
	return nil
}

func buildVoucherBody(email VoucherEmail) string {
	return fmt.Sprintf(`<html>
<body style="font-family: Arial, sans-serif; color: #333;">
  <h2>%s Results Checker Voucher</h2>
  <p>Thank you for your purchase. Your voucher details are below.</p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><td><strong>Serial Number</strong></td><td>%s</td></tr>
    <tr><td><strong>PIN</strong></td><td>%s</td></tr>
    <tr><td><strong>Reference</strong></td><td>%s</td></tr>
  </table>
  <p>Check your results at <a href="%s">%s</a>.</p>
  <p>Keep this email safe. Each voucher can only be used once.</p>
</body>
</html>`, email.ExamType, email.Serial, email.PIN, email.Reference, email.ResultCheckURL, email.ResultCheckURL)
}
