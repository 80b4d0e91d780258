package slack

import (
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/slackwire/pkg/socketmode"
)

// Flags defines CLI flags to configure the Slack Socket Mode client. These flags
// can also be set using environment variables and the application's configuration file.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "slack-app-token",
			Usage: `Slack app-level token ("xapp-...") with the "connections:write" scope`,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SLACK_APP_TOKEN"),
				toml.TOML("slack.app_token", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "slack-api-url",
			Usage: "base URL of the Slack Web API",
			Value: DefaultBaseURL,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SLACK_API_URL"),
				toml.TOML("slack.api_url", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "max-reconnect-attempts",
			Usage: "consecutive failed Socket Mode connection attempts before giving up",
			Value: socketmode.DefaultMaxReconnectAttempts,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SLACK_MAX_RECONNECT_ATTEMPTS"),
				toml.TOML("slack.max_reconnect_attempts", configFilePath),
			),
		},
		&cli.BoolFlag{
			Name:  "auto-ack",
			Usage: "acknowledge Socket Mode envelopes automatically after handling them",
			Value: true,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SLACK_AUTO_ACK"),
				toml.TOML("slack.auto_ack", configFilePath),
			),
		},
	}
}
