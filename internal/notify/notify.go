package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"tablebook/internal/domain"
)

// Notifier announces reservation lifecycle changes to operators. Failures
// must never fail the reservation itself; callers log and move on.
type Notifier interface {
	ReservationConfirmed(ctx context.Context, res domain.Reservation, user domain.User) error
	ReservationCancelled(ctx context.Context, res domain.Reservation, user domain.User) error
}

// Noop is used when no webhook is configured.
type Noop struct{}

func (Noop) ReservationConfirmed(context.Context, domain.Reservation, domain.User) error { return nil }
func (Noop) ReservationCancelled(context.Context, domain.Reservation, domain.User) error { return nil }

// Slack posts Block Kit messages to an incoming webhook.
type Slack struct {
	WebhookURL string
	Currency   string
}

func (s Slack) ReservationConfirmed(ctx context.Context, res domain.Reservation, user domain.User) error {
	return s.post(ctx, ":white_check_mark: New reservation", res, user)
}

func (s Slack) ReservationCancelled(ctx context.Context, res domain.Reservation, user domain.User) error {
	return s.post(ctx, ":x: Reservation cancelled", res, user)
}

func (s Slack) post(ctx context.Context, title string, res domain.Reservation, user domain.User) error {
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Date:*\n%s %s", res.Date, res.Time), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Party size:*\n%d", res.PartySize), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Guest:*\n%s (%s)", user.Name, user.Email), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Amount:*\n%d %s", res.Amount, strings.ToUpper(s.Currency)), false, false),
	}
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, title, false, false)),
		slack.NewSectionBlock(nil, fields, nil),
	}
	if len(res.Items) > 0 {
		var lines []string
		for _, item := range res.Items {
			lines = append(lines, fmt.Sprintf("• %s ×%d", item.Name, item.Quantity))
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "*Pre-order:*\n"+strings.Join(lines, "\n"), false, false), nil, nil))
	}
	if res.SpecialRequests != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, "*Requests:*\n"+res.SpecialRequests, false, false), nil, nil))
	}
	msg := &slack.WebhookMessage{Blocks: &slack.Blocks{BlockSet: blocks}}
	if err := slack.PostWebhookContext(ctx, s.WebhookURL, msg); err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	return nil
}
