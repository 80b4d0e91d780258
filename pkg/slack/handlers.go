package slack

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tzrikka/slackwire/pkg/socketmode"
)

// RegisterLoggers registers handlers that decode and log every
// non-control envelope that the given Socket Mode client receives.
func RegisterLoggers(c *socketmode.Client) {
	c.OnEventsAPI(logEvent)
	c.OnSlashCommands(logSlashCommand)
	c.OnInteractive(logInteraction)
	c.OnAppMention(logEvent)
}

func logEvent(ctx context.Context, e socketmode.Envelope) error {
	ev, err := EventsAPIEvent(e)
	if err != nil {
		return err
	}

	logRetry(zerolog.Ctx(ctx).Info(), e).Str("event_type", ev.Type).
		Str("inner_event_type", ev.InnerEvent.Type).Str("team_id", ev.TeamID).
		Str("api_app_id", ev.APIAppID).Msg("received Slack event")
	return nil
}

func logSlashCommand(ctx context.Context, e socketmode.Envelope) error {
	cmd, err := SlashCommand(e)
	if err != nil {
		return err
	}

	logRetry(zerolog.Ctx(ctx).Info(), e).Str("command", cmd.Command).
		Str("channel_id", cmd.ChannelID).Str("user_id", cmd.UserID).
		Str("team_id", cmd.TeamID).Msg("received Slack slash command")
	return nil
}

func logInteraction(ctx context.Context, e socketmode.Envelope) error {
	ic, err := InteractionCallback(e)
	if err != nil {
		return err
	}

	logRetry(zerolog.Ctx(ctx).Info(), e).Str("interaction_type", string(ic.Type)).
		Str("callback_id", ic.CallbackID).Str("user_id", ic.User.ID).
		Str("team_id", ic.Team.ID).Msg("received Slack interaction")
	return nil
}

func logRetry(ev *zerolog.Event, e socketmode.Envelope) *zerolog.Event {
	if e.RetryAttempt != nil {
		ev = ev.Int("retry_attempt", *e.RetryAttempt)
	}
	if e.RetryReason != nil {
		ev = ev.Str("retry_reason", *e.RetryReason)
	}
	return ev
}
