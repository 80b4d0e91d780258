package http

import (
	"fmt"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

const (
	DefaultHTTPPort = 14480
)

// Flags defines CLI flags to configure an HTTP server. These flags can also
// be set using environment variables and the application's configuration file.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "http-port",
			Usage: "local port number for health checks and Prometheus metrics",
			Value: DefaultHTTPPort,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SLACKWIRE_HTTP_PORT"),
				toml.TOML("http.port", configFilePath),
			),
			Validator: func(port int) error {
				if port < 0 || port > 65535 {
					return fmt.Errorf("invalid port number: %d", port)
				}
				return nil
			},
		},
	}
}
