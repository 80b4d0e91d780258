package http

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/slackwire/pkg/slack"
	"github.com/tzrikka/slackwire/pkg/socketmode"
	"github.com/tzrikka/slackwire/pkg/thrippy"
)

// Start initializes logging, the Slack Socket Mode client, and Slackwire's HTTP
// server. It keeps running until the client gives up, or a signal is received.
func Start(ctx context.Context, cmd *cli.Command) error {
	initLog(cmd.Bool("dev"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.Logger.WithContext(ctx)

	token, err := appToken(ctx, cmd)
	if err != nil {
		log.Err(err).Msg("failed to resolve Slack app-level token")
		return err
	}

	reg := newRegistry()
	api := &slack.AppsAPI{BaseURL: cmd.String("slack-api-url"), AppToken: token}
	c := socketmode.New(api,
		socketmode.WithMaxReconnectAttempts(cmd.Int("max-reconnect-attempts")),
		socketmode.WithRegisterer(reg),
	)
	c.SetAutoAcknowledge(cmd.Bool("auto-ack"))
	slack.RegisterLoggers(c)

	errc := make(chan error, 1)
	go func() {
		err := newHTTPServer(cmd.Int("http-port"), c, reg).run(ctx)
		if err != nil {
			stop()
		}
		errc <- err
	}()

	err = c.Start(ctx)
	stop()

	if serverErr := <-errc; err == nil {
		err = serverErr
	}
	return err
}

// initLog initializes the logger for the Slackwire server,
// based on whether it's running in development mode or not.
func initLog(devMode bool) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if !devMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
		return
	}

	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05.000",
	}).With().Caller().Logger()

	log.Warn().Msg("********** DEV MODE - UNSAFE IN PRODUCTION! **********")
}

// appToken returns the Slack app-level token from the "slack-app-token" flag,
// or from a Thrippy link's saved credentials if the flag isn't set.
func appToken(ctx context.Context, cmd *cli.Command) (string, error) {
	if token := cmd.String("slack-app-token"); token != "" {
		return token, nil
	}

	linkID := cmd.String("thrippy-link-id")
	if linkID == "" {
		return "", errors.New("missing Slack app-level token: set either --slack-app-token or --thrippy-link-id")
	}

	creds, err := thrippy.SecureCreds(cmd)
	if err != nil {
		return "", err
	}

	return thrippy.AppToken(ctx, cmd.String("thrippy-server-addr"), creds, linkID)
}

// newRegistry returns a Prometheus registry with the standard
// Go runtime and process collectors, in addition to the client's.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
