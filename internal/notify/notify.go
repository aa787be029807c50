package notify

import (
	"context"
	"fmt"

	"github.com/lakshmishasr24-hub/Smart-Queue/internal/models"
)

const YourTurnTitle = "Your Turn!"

func AnnouncementText(ticket models.Ticket) string {
	return fmt.Sprintf("Ticket number %d, %s, please proceed to the counter.", ticket.TicketNumber, ticket.Name)
}

// YourTurn is the message shown to the customer whose ticket was called.
func YourTurn(ticket models.Ticket) Message {
	return Message{
		Title: YourTurnTitle,
		Body:  fmt.Sprintf("Hello %s, Ticket #%d is now being served.", ticket.Name, ticket.TicketNumber),
	}
}

// Announcer hands the spoken call-out to a speech provider.
type Announcer struct {
	provider Provider
}

func NewAnnouncer(provider Provider) *Announcer {
	return &Announcer{provider: provider}
}

func (a *Announcer) Announce(ctx context.Context, ticket models.Ticket) error {
	if a == nil || a.provider == nil {
		return nil
	}
	return a.provider.Send(ctx, Message{Body: AnnouncementText(ticket)}, "counter")
}

// Notifier delivers the your-turn message for a ticket's owner.
type Notifier struct {
	provider Provider
}

func NewNotifier(provider Provider) *Notifier {
	return &Notifier{provider: provider}
}

func (n *Notifier) NotifyYourTurn(ctx context.Context, ticket models.Ticket) error {
	if n == nil || n.provider == nil {
		return nil
	}
	return n.provider.Send(ctx, YourTurn(ticket), ticket.TicketID)
}
