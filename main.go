package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v3"
)

var (
	GitCommit string
	GitTag    string
	BuildTime string
)

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "./config.yml",
		Usage:   "Path to the yaml configuration file",
		Sources: cli.EnvVars(EnvPrefix + "_CONFIG_FILE"),
	}
	envFileFlag = &cli.StringFlag{
		Name:    "env-file",
		Value:   "./config.env",
		Usage:   "Path to an optional dotenv file loaded before the environment variables",
		Sources: cli.EnvVars(EnvPrefix + "_ENV_FILE"),
	}
)

// loadConfig builds the configuration from the files selected by the root flags.
func loadConfig(cmd *cli.Command) (*Config, error) {
	return LoadAndInitConfigs(cmd.String("config"), cmd.String("env-file"), GitCommit, GitTag, BuildTime)
}

func apiCmd() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Run the books REST api",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			app, err := NewAPIApp(config)
			if err != nil {
				return fmt.Errorf("application failed to initialized: %w", err)
			}
			return app.Run()
		},
	}
}

func gatewayCmd() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Run the api gateway in front of the downstream services",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "routes",
				Aliases: []string{"r"},
				Usage:   "Path to the gateway routes file. Overrides gateway.routes_file",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if routes := cmd.String("routes"); routes != "" {
				config.Gateway.RoutesFile = routes
			}
			app, err := NewGatewayApp(config)
			if err != nil {
				return fmt.Errorf("application failed to initialized: %w", err)
			}
			return app.Run()
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create or update the books table then exit",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "seed",
				Usage: "Load database.seed_file into the books table when it is empty",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return Migrate(ctx, config, cmd.Bool("seed"))
		},
	}
}

// rootCmd is the shelfgate command line.
func rootCmd() *cli.Command {
	version := GitTag
	if version == "" {
		version = "dev"
	}
	return &cli.Command{
		Name:    "shelfgate",
		Usage:   "Books api and its gateway",
		Version: version,
		Flags:   []cli.Flag{configFlag, envFileFlag},
		Commands: []*cli.Command{
			apiCmd(),
			gatewayCmd(),
			migrateCmd(),
		},
	}
}

func main() {
	if err := rootCmd().Run(context.Background(), os.Args); err != nil {
		log.Fatal("application exited. check logs for more details. ", err)
	}
}
