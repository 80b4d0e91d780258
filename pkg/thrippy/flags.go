package thrippy

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	DefaultServerAddr = "localhost:14460"
)

// Flags defines CLI flags to configure a Thrippy gRPC client. These flags can also
// be set using environment variables and the application's configuration file.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "thrippy-server-addr",
			Usage: "Thrippy gRPC server address",
			Value: DefaultServerAddr,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("THRIPPY_SERVER_ADDR"),
				toml.TOML("thrippy.server_addr", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "thrippy-link-id",
			Usage: "Thrippy link ID with a Slack app-level token (instead of --slack-app-token)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("THRIPPY_LINK_ID"),
				toml.TOML("thrippy.link_id", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "thrippy-server-ca-cert",
			Usage: "Thrippy server's CA certificate PEM file (optional, for TLS)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("THRIPPY_SERVER_CA_CERT"),
				toml.TOML("thrippy.server_ca_cert", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "thrippy-client-cert",
			Usage: "client's public certificate PEM file (optional, for mTLS)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("THRIPPY_CLIENT_CERT"),
				toml.TOML("thrippy.client_cert", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "thrippy-client-key",
			Usage: "client's private key PEM file (optional, for mTLS)",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("THRIPPY_CLIENT_KEY"),
				toml.TOML("thrippy.client_key", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "thrippy-server-name-override",
			Usage: "Thrippy server's name override (for testing)",
			Sources: cli.NewValueSourceChain(
				toml.TOML("thrippy.server_name_override", configFilePath),
			),
		},
	}
}

// SecureCreds initializes gRPC client credentials, based on CLI flags.
// In development mode, or without a CA certificate, they are insecure.
func SecureCreds(cmd *cli.Command) (credentials.TransportCredentials, error) {
	caPath := cmd.String("thrippy-server-ca-cert")
	if cmd.Bool("dev") || caPath == "" {
		return insecureCreds(), nil
	}

	return tlsCreds(caPath, cmd.String("thrippy-client-cert"), cmd.String("thrippy-client-key"),
		cmd.String("thrippy-server-name-override"))
}

func insecureCreds() credentials.TransportCredentials {
	return insecure.NewCredentials()
}

func tlsCreds(caPath, certPath, keyPath, serverName string) (credentials.TransportCredentials, error) {
	ca, err := os.ReadFile(caPath) //gosec:disable G304 // Path comes from a CLI flag.
	if err != nil {
		return nil, fmt.Errorf("failed to read server CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(ca) {
		return nil, errors.New("failed to parse server CA certificate")
	}

	cfg := &tls.Config{
		MinVersion: tls.VersionTLS13,
		RootCAs:    pool,
		ServerName: serverName,
	}

	if certPath != "" || keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return credentials.NewTLS(cfg), nil
}
