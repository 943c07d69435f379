package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/storacha/upload-service/pkg/service/uploads"
	"github.com/storacha/upload-service/pkg/store/ratelimitstore"
)

var subjectFlag = &cli.StringFlag{
	Name:     "subject",
	Usage:    "Subject of the rate limit, e.g. a DID or an email address.",
	Required: true,
}

var RateLimitCmd = &cli.Command{
	Name:    "ratelimit",
	Aliases: []string{"rl"},
	Usage:   "Rate limit tools.",
	Subcommands: []*cli.Command{
		{
			Name:  "set",
			Usage: "Set the rate limit of a subject. A rate of 0 blocks it.",
			Flags: []cli.Flag{
				subjectFlag,
				&cli.Float64Flag{
					Name:     "rate",
					Usage:    "Allowed rate, 0 to block.",
					Required: true,
				},
				CauseFlag,
			},
			Action: func(cCtx *cli.Context) error {
				cause, err := parseLink(cCtx, "cause")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					id, err := svc.SetRateLimit(ctx, cCtx.String("subject"), cCtx.Float64("rate"), cause)
					if err != nil {
						return err
					}
					fmt.Println(id)
					return nil
				})
			},
		},
		{
			Name:  "get",
			Usage: "Show the current rate limit of a subject.",
			Flags: []cli.Flag{subjectFlag},
			Action: func(cCtx *cli.Context) error {
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					rl, err := svc.CurrentRateLimit(ctx, cCtx.String("subject"))
					if err != nil {
						return err
					}
					printRateLimit(rl)
					return nil
				})
			},
		},
		{
			Name:  "list",
			Usage: "List the rate limits of a subject, newest first.",
			Flags: []cli.Flag{subjectFlag},
			Action: func(cCtx *cli.Context) error {
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					limits, err := svc.RateLimits().List(ctx, cCtx.String("subject"))
					if err != nil {
						return err
					}
					for _, rl := range limits {
						printRateLimit(rl)
					}
					return nil
				})
			},
		},
		{
			Name:      "blocked",
			Usage:     "Report whether any of the subjects is blocked.",
			ArgsUsage: "<subject>...",
			Action: func(cCtx *cli.Context) error {
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					blocked, err := svc.AnyBlocked(ctx, cCtx.Args().Slice()...)
					if err != nil {
						return err
					}
					fmt.Println(blocked)
					return nil
				})
			},
		},
	},
}

func printRateLimit(rl ratelimitstore.RateLimit) {
	fmt.Printf("%s\t%s\t%g\t%s\t%s\n", rl.ID, rl.Subject, rl.Rate, formatTime(rl.InsertedAt), rl.Cause)
}
