package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/storacha/upload-service/pkg/service/uploads"
)

var delegationFlag = &cli.StringFlag{
	Name:     "delegation",
	Usage:    "CID of the revoked delegation.",
	Required: true,
}

var RevocationCmd = &cli.Command{
	Name:    "revocation",
	Aliases: []string{"rv"},
	Usage:   "Revocation index tools.",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "Revoke a delegation.",
			Flags: []cli.Flag{
				delegationFlag,
				&cli.StringFlag{
					Name:     "scope",
					Usage:    "CID of the delegation authorizing the revocation.",
					Required: true,
				},
				CauseFlag,
			},
			Action: func(cCtx *cli.Context) error {
				dlg, err := parseLink(cCtx, "delegation")
				if err != nil {
					return err
				}
				scope, err := parseLink(cCtx, "scope")
				if err != nil {
					return err
				}
				cause, err := parseLink(cCtx, "cause")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					return svc.Revoke(ctx, dlg, scope, cause)
				})
			},
		},
		{
			Name:  "list",
			Usage: "List the revocations of a delegation.",
			Flags: []cli.Flag{delegationFlag},
			Action: func(cCtx *cli.Context) error {
				dlg, err := parseLink(cCtx, "delegation")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					revs, err := svc.Revocations().List(ctx, dlg)
					if err != nil {
						return err
					}
					for _, r := range revs {
						fmt.Printf("scope=%s cause=%s\n", r.Scope, r.Cause)
					}
					return nil
				})
			},
		},
		{
			Name:      "check",
			Usage:     "Report which delegations are revoked.",
			ArgsUsage: "<cid>...",
			Action: func(cCtx *cli.Context) error {
				links, err := parseLinks(cCtx.Args().Slice())
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					revoked, err := svc.Revocations().BatchIsRevoked(ctx, links)
					if err != nil {
						return err
					}
					for _, l := range links {
						fmt.Printf("%s\t%t\n", l, revoked[l])
					}
					return nil
				})
			},
		},
	},
}
