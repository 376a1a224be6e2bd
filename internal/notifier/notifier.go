package notifier

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/billing-webhooks/internal/model"
	"github.com/jwalitptl/billing-webhooks/pkg/logger"
	"github.com/jwalitptl/billing-webhooks/pkg/messaging"
)

// Notifier is the fire-and-forget notification collaborator boundary. The
// webhook subsystem only decides that a notice is warranted; rendering and
// delivery live elsewhere.
type Notifier interface {
	Notify(ctx context.Context, n *model.Notification)
}

// brokerNotifier publishes notification requests to the message broker for
// the downstream notification service, with a direct email fallback when
// the broker is down.
type brokerNotifier struct {
	broker  messaging.Broker
	channel string
	mailer  *Mailer
	logger  *logger.Logger
}

func New(broker messaging.Broker, channel string, mailer *Mailer, logger *logger.Logger) Notifier {
	return &brokerNotifier{
		broker:  broker,
		channel: channel,
		mailer:  mailer,
		logger:  logger,
	}
}

// Notify is fire-and-forget: failures are logged, never surfaced, so a
// broken notification path cannot fail event processing.
func (n *brokerNotifier) Notify(ctx context.Context, notification *model.Notification) {
	if err := n.broker.Publish(ctx, n.channel, notification); err != nil {
		n.logger.Error(err, "failed to publish notification",
			"organization_id", notification.OrganizationID.String(),
			"kind", string(notification.Kind))

		if n.mailer != nil {
			if mailErr := n.mailer.SendOpsAlert(notification); mailErr != nil {
				n.logger.Error(mailErr, "notification email fallback failed",
					"organization_id", notification.OrganizationID.String())
			}
		}
	}
}

// Mailer sends operational alert mail when the broker path is unavailable.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	to     string
}

func NewMailer(host string, port int, user, password, from, to string) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(host, port, user, password),
		from:   from,
		to:     to,
	}
}

func (m *Mailer) SendOpsAlert(n *model.Notification) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to)
	msg.SetHeader("Subject", fmt.Sprintf("[billing] %s for organization %s", n.Kind, n.OrganizationID))
	msg.SetBody("text/plain", fmt.Sprintf(
		"Notification %s could not be queued.\n\nOrganization: %s\nEvent: %s\nDetail: %s\n",
		n.Kind, n.OrganizationID, n.EventID, n.Detail,
	))
	return m.dialer.DialAndSend(msg)
}
