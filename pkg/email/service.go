package email

import (
	"fmt"
	"html"

	"github.com/jordanlanch/companion-api/pkg/logger"
	"github.com/jordanlanch/companion-api/pkg/payout"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Sender delivers a prepared message
type Sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// Service handles email sending
type Service struct {
	fromEmail string
	fromName  string
	baseURL   string
	sender    Sender // nil in console mode
	logger    logger.Logger
}

// NewService creates a new email service.
// If sendGridAPIKey is provided, emails will be sent via SendGrid.
// Otherwise, emails will be logged (development mode).
func NewService(fromEmail, fromName, baseURL, sendGridAPIKey string, log logger.Logger) *Service {
	s := &Service{
		fromEmail: fromEmail,
		fromName:  fromName,
		baseURL:   baseURL,
		logger:    log.With("component", "email"),
	}
	if sendGridAPIKey != "" {
		s.sender = sendgrid.NewSendClient(sendGridAPIKey)
		s.logger.Info("Email service initialized with SendGrid")
	} else {
		s.logger.Warn("Email service in console-only mode (set SENDGRID_API_KEY for production)")
	}
	return s
}

// SetSender replaces the SendGrid client
func (s *Service) SetSender(sender Sender) {
	s.sender = sender
}

// WithdrawalRequested confirms a new withdrawal to the user
func (s *Service) WithdrawalRequested(w *payout.Withdrawal) error {
	if w.ContactEmail == "" {
		return nil
	}

	amount := payout.FormatAmount(w.AmountCents)
	subject := fmt.Sprintf("Withdrawal of %s received", amount)
	actionURL := s.baseURL + "/wallet"

	htmlBody := fmt.Sprintf(`
		<html>
		<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
			<h2>We received your withdrawal request</h2>
			<p>Amount: <strong>%s</strong></p>
			<p>Method: %s</p>
			<p>The amount has been reserved from your bonus balance. We will email you again once the request is reviewed.</p>
			<p><a href="%s">View your wallet</a></p>
		</body>
		</html>
	`, amount, html.EscapeString(w.Method), actionURL)

	plainTextBody := fmt.Sprintf(`We received your withdrawal request

Amount: %s
Method: %s

The amount has been reserved from your bonus balance. We will email you again once the request is reviewed.

View your wallet: %s
`, amount, w.Method, actionURL)

	return s.send(w.ContactEmail, subject, htmlBody, plainTextBody)
}

// WithdrawalReviewed tells the user the outcome of their withdrawal
func (s *Service) WithdrawalReviewed(w *payout.Withdrawal) error {
	if w.ContactEmail == "" {
		return nil
	}

	amount := payout.FormatAmount(w.AmountCents)
	var subject, summary string
	switch w.Status {
	case payout.StatusApproved:
		subject = fmt.Sprintf("Your withdrawal of %s was approved", amount)
		summary = "The payout is on its way to " + w.Destination + "."
	case payout.StatusRejected:
		subject = fmt.Sprintf("Your withdrawal of %s was declined", amount)
		summary = "The amount has been returned to your bonus balance."
	default:
		return nil
	}

	note := ""
	if w.AdminNote != "" {
		note = "Note from our team: " + w.AdminNote
	}

	htmlBody := fmt.Sprintf(`
		<html>
		<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
			<h2>%s</h2>
			<p>%s</p>
			<p>%s</p>
			<p><a href="%s/wallet">View your wallet</a></p>
		</body>
		</html>
	`, html.EscapeString(subject), html.EscapeString(summary), html.EscapeString(note), s.baseURL)

	plainTextBody := fmt.Sprintf("%s\n\n%s\n\n%s\n\nView your wallet: %s/wallet\n", subject, summary, note, s.baseURL)

	return s.send(w.ContactEmail, subject, htmlBody, plainTextBody)
}

func (s *Service) send(toEmail, subject, htmlBody, plainTextBody string) error {
	if s.sender == nil {
		s.logger.Info("Email NOT sent (development mode)", "to", toEmail, "subject", subject)
		return nil
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainTextBody, htmlBody)

	response, err := s.sender.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned error status: %d", response.StatusCode)
	}

	s.logger.Info("Email sent", "to", toEmail, "status", response.StatusCode)
	return nil
}
