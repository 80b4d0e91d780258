package slack

import (
	"encoding/json"
	"fmt"

	slackgo "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/tzrikka/slackwire/pkg/socketmode"
)

// EventsAPIEvent decodes the payload of an "events_api" envelope.
// Socket Mode payloads are not signed or token-verified:
// the WebSocket connection is already authenticated.
func EventsAPIEvent(e socketmode.Envelope) (slackevents.EventsAPIEvent, error) {
	ev, err := slackevents.ParseEvent(json.RawMessage(e.Payload), slackevents.OptionNoVerifyToken())
	if err != nil {
		return slackevents.EventsAPIEvent{}, fmt.Errorf("failed to parse Events API payload: %w", err)
	}
	return ev, nil
}

// SlashCommand decodes the payload of a "slash_commands" envelope.
func SlashCommand(e socketmode.Envelope) (slackgo.SlashCommand, error) {
	cmd := slackgo.SlashCommand{}
	if err := json.Unmarshal(e.Payload, &cmd); err != nil {
		return slackgo.SlashCommand{}, fmt.Errorf("failed to parse slash command payload: %w", err)
	}
	return cmd, nil
}

// InteractionCallback decodes the payload of an "interactive" envelope.
func InteractionCallback(e socketmode.Envelope) (slackgo.InteractionCallback, error) {
	ic := slackgo.InteractionCallback{}
	if err := json.Unmarshal(e.Payload, &ic); err != nil {
		return slackgo.InteractionCallback{}, fmt.Errorf("failed to parse interaction payload: %w", err)
	}
	return ic, nil
}
