package events

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/contactdir/contactdir-server/internal/config"
	pkgsync "github.com/contactdir/contactdir-server/internal/sync"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// MailNotifier mails operators when a sync attempt fails
type MailNotifier struct {
	sender          mailSender
	from            string
	to              []string
	onlyAuthExpired bool
}

// NewMailNotifier creates a notifier sending through the configured SMTP server
func NewMailNotifier(cfg *config.MailConfig) (*MailNotifier, error) {
	password := ""
	if cfg.PasswordFile != "" {
		p, err := config.ReadSecretFile(cfg.PasswordFile)
		if err != nil {
			return nil, err
		}
		password = p
	}
	return newMailNotifier(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, password), cfg), nil
}

func newMailNotifier(sender mailSender, cfg *config.MailConfig) *MailNotifier {
	return &MailNotifier{
		sender:          sender,
		from:            cfg.From,
		to:              cfg.To,
		onlyAuthExpired: cfg.OnlyAuthExpired,
	}
}

// Publish sends a mail for failed attempts and ignores every other event
func (n *MailNotifier) Publish(_ context.Context, event Event) error {
	if event.Type != TypeSyncFailed || event.State == nil {
		return nil
	}
	if n.onlyAuthExpired && event.State.LastErrorKind != string(pkgsync.KindRemoteAuthExpired) {
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to...)
	m.SetHeader("Subject", fmt.Sprintf("[%s] contact sync failed: %s", event.DirectoryName, event.State.LastErrorKind))
	m.SetBody("text/plain", failureBody(event))

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send failure mail: %w", err)
	}
	return nil
}

// Close is a no-op, the dialer connects per mail
func (*MailNotifier) Close() error {
	return nil
}

func failureBody(event Event) string {
	state := event.State

	var b strings.Builder
	fmt.Fprintf(&b, "The contact sync of directory %q failed.\n\n", event.DirectoryName)
	fmt.Fprintf(&b, "Attempt:   %s\n", event.AttemptID)
	fmt.Fprintf(&b, "Error:     %s\n", state.LastError)
	fmt.Fprintf(&b, "Kind:      %s\n", state.LastErrorKind)
	fmt.Fprintf(&b, "Failed at: %s\n\n", event.OccurredAt.Format(timeLayout))
	fmt.Fprintf(&b, "Records processed before the failure: %d (created %d, updated %d)\n",
		state.RecordsProcessed, state.RecordsCreated, state.RecordsUpdated)
	if state.LastErrorKind == string(pkgsync.KindRemoteAuthExpired) {
		b.WriteString("\nThe remote credentials must be renewed, retrying will not help.\n")
	}
	return b.String()
}

const timeLayout = "2006-01-02 15:04:05 MST"
