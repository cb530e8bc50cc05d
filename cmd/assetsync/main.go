package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chmdznr/oss-asset-sync/pkg/version"
)

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	app := &cli.App{
		Name:                 "assetsync",
		Usage:                "Keep local project folders and a remote asset store in sync",
		Version:              version.Version,
		EnableBashCompletion: true,
		Flags:                globalFlags(),
		Before:               setup,
		After:                teardown,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Println(version.String())
					return nil
				},
			},
			{
				Name:  "login",
				Usage: "Store credentials for the remote",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "token",
						Usage:   "Developer token",
						EnvVars: []string{"ASSETSYNC_TOKEN"},
					},
					&cli.StringFlag{
						Name:  "access-token",
						Usage: "OAuth access token",
					},
					&cli.StringFlag{
						Name:  "refresh-token",
						Usage: "OAuth refresh token",
					},
					&cli.DurationFlag{
						Name:  "expires-in",
						Usage: "Lifetime of the OAuth access token",
					},
				},
				Action: login,
			},
			{
				Name:   "logout",
				Usage:  "Forget credentials, projects and assets",
				Action: logout,
			},
			{
				Name:   "teams",
				Usage:  "List remote teams",
				Action: listTeams,
			},
			{
				Name:  "projects",
				Usage: "Refresh and list projects",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "team",
						Usage: "Only show projects of this team id",
					},
					&cli.BoolFlag{
						Name:  "offline",
						Usage: "Do not refresh from the remote",
					},
				},
				Action: listProjects,
			},
			{
				Name:  "project",
				Usage: "Configure a project",
				Subcommands: []*cli.Command{
					{
						Name:      "enable",
						Usage:     "Start syncing a project",
						ArgsUsage: "<project>",
						Action:    setProjectSync(true),
					},
					{
						Name:      "disable",
						Usage:     "Stop syncing a project",
						ArgsUsage: "<project>",
						Action:    setProjectSync(false),
					},
					{
						Name:      "path",
						Usage:     "Bind a project to a local directory",
						ArgsUsage: "<project> <directory>",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "sub-folder",
								Usage: "Create and use this folder inside the directory",
							},
						},
						Action: setProjectPath,
					},
					{
						Name:      "remove",
						Usage:     "Remove a project and its assets from the catalog",
						ArgsUsage: "<project>",
						Action:    removeProject,
					},
				},
			},
			{
				Name:  "ignore",
				Usage: "Manage ignored folder patterns",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List active patterns",
						Action: listIgnore,
					},
					{
						Name:      "add",
						Usage:     "Ignore folders matching a name or glob",
						ArgsUsage: "<pattern>",
						Action:    addIgnore,
					},
					{
						Name:      "remove",
						Usage:     "Stop ignoring a user pattern",
						ArgsUsage: "<pattern>",
						Action:    removeIgnore,
					},
				},
			},
			{
				Name:  "status",
				Usage: "Show project status",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "project",
						Usage: "Project id or name",
					},
				},
				Action: showStatus,
			},
			{
				Name:  "run",
				Usage: "Start the sync loop",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "once",
						Usage: "Run a single iteration and exit",
					},
					&cli.BoolFlag{
						Name:  "interactive",
						Usage: "Show progress bars and read keys (s: sync now, q: quit)",
					},
					&cli.BoolFlag{
						Name:    "watch",
						Usage:   "Wake the loop on local file changes",
						EnvVars: []string{"ASSETSYNC_WATCH"},
					},
				},
				Action: runSync,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "TOML or YAML config file",
			EnvVars: []string{"ASSETSYNC_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "db",
			Usage:   "Catalog database path",
			EnvVars: []string{"ASSETSYNC_DB"},
		},
		&cli.StringFlag{
			Name:    "backend",
			Usage:   "Remote backend: frameio or s3",
			EnvVars: []string{"ASSETSYNC_BACKEND"},
		},
		&cli.StringFlag{
			Name:    "api-host",
			Usage:   "Asset service base URL",
			EnvVars: []string{"ASSETSYNC_API_HOST"},
		},
		&cli.StringFlag{
			Name:    "client-id",
			Usage:   "OAuth client id",
			EnvVars: []string{"ASSETSYNC_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "S3 endpoint",
			EnvVars: []string{"ASSETSYNC_S3_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "s3-bucket",
			Usage:   "S3 bucket",
			EnvVars: []string{"ASSETSYNC_S3_BUCKET"},
		},
		&cli.StringFlag{
			Name:    "s3-access-key",
			Usage:   "S3 access key",
			EnvVars: []string{"ASSETSYNC_S3_ACCESS_KEY"},
		},
		&cli.StringFlag{
			Name:    "s3-secret-key",
			Usage:   "S3 secret key",
			EnvVars: []string{"ASSETSYNC_S3_SECRET_KEY"},
		},
		&cli.BoolFlag{
			Name:    "s3-secure",
			Usage:   "Use TLS for S3",
			EnvVars: []string{"ASSETSYNC_S3_SECURE"},
		},
		&cli.DurationFlag{
			Name:    "interval",
			Usage:   "Pause between sync iterations",
			EnvVars: []string{"ASSETSYNC_INTERVAL"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn or error",
			EnvVars: []string{"ASSETSYNC_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Also write logs to this rotating file",
			EnvVars: []string{"ASSETSYNC_LOG_FILE"},
		},
	}
}
