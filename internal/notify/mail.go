package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/disciple-tools/homescreen-apps/internal/config"
)

// Email is one outgoing message.
type Email struct {
	To      []string
	Subject string
	Body    string
}

// Mailer turns assignment, mention and digest events into plain-text email. Events
// without a recipient address are skipped.
type Mailer struct {
	from    string
	logger  *slog.Logger
	deliver func(ctx context.Context, e Email) error
}

// NewMailer returns a Mailer sending through the configured SMTP server.
func NewMailer(log *slog.Logger, cfg config.SMTPConfig) (*Mailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp from address is required")
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	m := newMailer(log, cfg.From, nil)
	m.deliver = func(ctx context.Context, e Email) error {
		msg := mail.NewMsg()
		if err := msg.From(m.from); err != nil {
			return fmt.Errorf("from: %w", err)
		}
		if err := msg.To(e.To...); err != nil {
			return fmt.Errorf("to: %w", err)
		}
		msg.Subject(e.Subject)
		msg.SetBodyString(mail.TypeTextPlain, e.Body)
		return client.DialAndSendWithContext(ctx, msg)
	}
	return m, nil
}

func newMailer(log *slog.Logger, from string, deliver func(context.Context, Email) error) *Mailer {
	if log == nil {
		log = slog.Default()
	}
	return &Mailer{
		from:    from,
		logger:  log.With(slog.String("component", "mailer")),
		deliver: deliver,
	}
}

// Notify implements Notifier.
func (m *Mailer) Notify(ctx context.Context, env Envelope) error {
	emails := Compose(env)
	var errs []error
	for _, e := range emails {
		if err := m.deliver(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("send %q: %w", e.Subject, err))
			continue
		}
		m.logger.Info("email sent", slog.String("type", env.Meta.Type), slog.Int("recipients", len(e.To)))
	}
	return errors.Join(errs...)
}

// Compose renders the emails an event produces; events other users need not hear about yield none.
func Compose(env Envelope) []Email {
	switch data := env.Data.(type) {
	case Assigned:
		if data.Assignee.Email == "" {
			return nil
		}
		body := fmt.Sprintf("Hi %s,\n\nYou have been assigned the contact %s.\n", data.Assignee.Name, data.ContactName)
		if data.Link != "" {
			body += "\n" + data.Link + "\n"
		}
		return []Email{{
			To:      []string{data.Assignee.Email},
			Subject: "New contact assigned: " + data.ContactName,
			Body:    body,
		}}
	case Commented:
		var out []Email
		for _, r := range data.Mentioned {
			if r.Email == "" || r.UserID == data.AuthorID {
				continue
			}
			body := fmt.Sprintf("Hi %s,\n\n%s mentioned you on %s.\n", r.Name, data.Author, data.ContactName)
			if data.Link != "" {
				body += "\n" + data.Link + "\n"
			}
			out = append(out, Email{
				To:      []string{r.Email},
				Subject: fmt.Sprintf("%s mentioned you on %s", data.Author, data.ContactName),
				Body:    body,
			})
		}
		return out
	case UnassignedDigest:
		if len(data.Contacts) == 0 {
			return nil
		}
		var to []string
		for _, r := range data.Recipients {
			if r.Email != "" {
				to = append(to, r.Email)
			}
		}
		if len(to) == 0 {
			return nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%d contacts have been unassigned for more than %d days:\n\n", len(data.Contacts), data.StaleAfterDays)
		for _, c := range data.Contacts {
			fmt.Fprintf(&b, "- %s (%d days)\n", c.Name, c.AgeDays)
		}
		return []Email{{
			To:      to,
			Subject: fmt.Sprintf("%d unassigned contacts waiting", len(data.Contacts)),
			Body:    b.String(),
		}}
	default:
		return nil
	}
}
