package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/urfave/cli/v2"

	"github.com/storacha/upload-service/pkg/authz"
	"github.com/storacha/upload-service/pkg/service/uploads"
	"github.com/storacha/upload-service/pkg/store/delegationstore"
)

var DelegationCmd = &cli.Command{
	Name:    "delegation",
	Aliases: []string{"dg"},
	Usage:   "Delegation index tools.",
	Subcommands: []*cli.Command{
		{
			Name:      "import",
			Usage:     "Archive and index delegations.",
			ArgsUsage: "<delegation>...",
			Description: "Each argument is either a path to a delegation archive file or a\n" +
				"delegation formatted as a multibase string.",
			Flags: []cli.Flag{CauseFlag},
			Action: func(cCtx *cli.Context) error {
				if cCtx.NArg() == 0 {
					return errors.New("no delegations given")
				}
				cause, err := parseLink(cCtx, "cause")
				if err != nil {
					return err
				}
				var dlgs []delegation.Delegation
				for _, arg := range cCtx.Args().Slice() {
					dlg, err := readDelegation(arg)
					if err != nil {
						return err
					}
					dlgs = append(dlgs, dlg)
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					if err := svc.RecordDelegations(ctx, cause, dlgs...); err != nil {
						return err
					}
					for _, dlg := range dlgs {
						fmt.Println(dlg.Link())
					}
					return nil
				})
			},
		},
		{
			Name:      "get",
			Usage:     "Show an indexed delegation.",
			ArgsUsage: "<cid>",
			Action: func(cCtx *cli.Context) error {
				links, err := parseLinks(cCtx.Args().Slice())
				if err != nil {
					return err
				}
				if len(links) != 1 {
					return errors.New("expected exactly one delegation CID")
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					d, err := svc.Delegations().Get(ctx, links[0])
					if err != nil {
						return err
					}
					fmt.Printf("Link:       %s\n", d.Link)
					fmt.Printf("Issuer:     %s\n", d.Issuer)
					fmt.Printf("Audience:   %s\n", d.Audience)
					if d.Expiration == delegationstore.NoExpiration {
						fmt.Println("Expiration: never")
					} else {
						fmt.Printf("Expiration: %d\n", d.Expiration)
					}
					fmt.Printf("Cause:      %s\n", d.Cause)
					fmt.Printf("Inserted:   %s\n", formatTime(d.InsertedAt))
					fmt.Printf("Updated:    %s\n", formatTime(d.UpdatedAt))
					return nil
				})
			},
		},
		{
			Name:  "list",
			Usage: "List delegations issued to an audience.",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "audience",
					Aliases:  []string{"a"},
					Usage:    "DID of the audience.",
					Required: true,
				},
			},
			Action: func(cCtx *cli.Context) error {
				audience, err := parseDID(cCtx, "audience")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					links, err := svc.Delegations().ListByAudience(ctx, audience)
					if err != nil {
						return err
					}
					for _, l := range links {
						fmt.Println(l)
					}
					return nil
				})
			},
		},
		{
			Name:      "check",
			Usage:     "Check that a chain of indexed delegations is neither expired nor revoked.",
			ArgsUsage: "<cid>...",
			Action: func(cCtx *cli.Context) error {
				links, err := parseLinks(cCtx.Args().Slice())
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					chain := make([]delegationstore.Delegation, 0, len(links))
					for _, l := range links {
						d, err := svc.Delegations().Get(ctx, l)
						if err != nil {
							return fmt.Errorf("getting delegation %s: %w", l, err)
						}
						chain = append(chain, d)
					}
					err := svc.CheckChain(ctx, chain)
					var ce authz.ChainError
					if errors.As(err, &ce) {
						fmt.Printf("invalid: %s\n", ce.Error())
						return cli.Exit("", 1)
					}
					if err != nil {
						return err
					}
					fmt.Println("valid")
					return nil
				})
			},
		},
	},
}

func readDelegation(arg string) (delegation.Delegation, error) {
	if _, err := os.Stat(arg); err == nil {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("reading delegation file: %w", err)
		}
		dlg, err := delegation.Extract(data)
		if err != nil {
			return nil, fmt.Errorf("extracting delegation from %s: %w", arg, err)
		}
		return dlg, nil
	}
	dlg, err := delegation.Parse(arg)
	if err != nil {
		return nil, fmt.Errorf("parsing delegation: %w", err)
	}
	return dlg, nil
}
