package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/iotrix-integration/cmd"
)

func main() {
	app := &cli.App{
		Name:   "iotrix-integration",
		Usage:  "polls an iotrix solar inverter and publishes it to home assistant",
		Action: cmd.IotrixCommand,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "INFO",
			},
			&cli.StringFlag{
				Name:    "listen-address",
				EnvVars: []string{"SERVER_LISTEN_ADDRESS"},
				Value:   "0.0.0.0:8000",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "poll the device and serve the setup wizard",
				Action: cmd.IotrixCommand,
			},
			{
				Name:   "qr-login",
				Usage:  "log in by scanning a qr code and print the token",
				Action: cmd.QrLoginCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "image-out",
						Usage: "write the qr code png to this path",
					},
				},
			},
			{
				Name:   "hash-password",
				Usage:  "print the bcrypt hash for SERVER_ADMIN_PASSWORD_HASH",
				Action: cmd.HashPasswordCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "password",
						EnvVars: []string{"ADMIN_PASSWORD"},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
