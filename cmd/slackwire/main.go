package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/slackwire/pkg/http"
	"github.com/tzrikka/slackwire/pkg/slack"
	"github.com/tzrikka/slackwire/pkg/thrippy"
	"github.com/tzrikka/xdg"
)

const (
	ConfigDirName  = "slackwire"
	ConfigFileName = "config.toml"
)

func main() {
	buildInfo, _ := debug.ReadBuildInfo()
	configFilePath := configFile()

	flags := []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "simple setup, but unsafe for production",
		},
	}
	flags = append(flags, http.Flags(configFilePath)...)
	flags = append(flags, slack.Flags(configFilePath)...)
	flags = append(flags, thrippy.Flags(configFilePath)...)

	cmd := &cli.Command{
		Name:    "slackwire",
		Usage:   "Receive Slack events, slash commands, and interactions over Socket Mode",
		Version: buildInfo.Main.Version,
		Flags:   flags,
		Action:  http.Start,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// configFile returns the path to the app's configuration file.
// It also creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		log.Fatal().Err(err).Caller().Send()
	}
	return altsrc.StringSourcer(path)
}
