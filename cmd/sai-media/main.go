package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-media/command"
	"github.com/saiset-co/sai-media/config"
	"github.com/saiset-co/sai-media/service"
	"github.com/saiset-co/sai-media/utils"
)

func main() {
	app := &cli.App{
		Name:  "sai-media",
		Usage: "Fetch, cache and deliver short-video and gallery media",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yml",
				Usage:   "path to the YAML configuration",
				EnvVars: []string{"SAI_MEDIA_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Start the service",
				Action: func(c *cli.Context) error {
					svc, err := service.NewService(c.Context, c.String("config"))
					if err != nil {
						return err
					}
					return svc.Start()
				},
			},
			{
				Name:  "cache-status",
				Usage: "Print media cache usage",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print the status as JSON"},
				},
				Action: func(c *cli.Context) error {
					svc, err := service.NewService(c.Context, c.String("config"))
					if err != nil {
						return err
					}

					status := svc.Store().Status()
					if !c.Bool("json") {
						fmt.Println(command.FormatStatus(status, 0))
						return nil
					}

					data, err := utils.Marshal(status)
					if err != nil {
						return err
					}
					fmt.Println(string(data))
					return nil
				},
			},
			{
				Name:      "config",
				Usage:     "Print the effective configuration, or the section at a dotted path",
				ArgsUsage: "[path]",
				Action: func(c *cli.Context) error {
					cm, err := config.NewConfigurationManager(c.String("config"))
					if err != nil {
						return err
					}

					var value interface{}
					if err := cm.GetAs(c.Args().First(), &value); err != nil {
						return err
					}

					data, err := yaml.Marshal(value)
					if err != nil {
						return err
					}
					fmt.Print(string(data))
					return nil
				},
			},
			{
				Name:  "clear-cache",
				Usage: "Remove every cached media file",
				Action: func(c *cli.Context) error {
					svc, err := service.NewService(c.Context, c.String("config"))
					if err != nil {
						return err
					}

					count, freed := svc.Store().ClearAll()
					fmt.Printf("Removed %d files, freed %s\n", count, humanize.IBytes(uint64(freed)))
					return nil
				},
			},
		},
	}

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
