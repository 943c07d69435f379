package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/storacha/upload-service/pkg/service/uploads"
)

var rootFlag = &cli.StringFlag{
	Name:     "root",
	Aliases:  []string{"r"},
	Usage:    "Root CID of the upload.",
	Required: true,
}

var UploadCmd = &cli.Command{
	Name:  "upload",
	Usage: "Record and look up uploads.",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "Record the shards of an upload.",
			Flags: []cli.Flag{
				SpaceFlag,
				rootFlag,
				&cli.StringSliceFlag{
					Name:     "shard",
					Usage:    "CID of a shard of the upload, may be repeated.",
					Required: true,
				},
				CauseFlag,
			},
			Action: func(cCtx *cli.Context) error {
				space, err := parseDID(cCtx, "space")
				if err != nil {
					return err
				}
				root, err := parseLink(cCtx, "root")
				if err != nil {
					return err
				}
				shards, err := parseLinks(cCtx.StringSlice("shard"))
				if err != nil {
					return err
				}
				cause, err := parseLink(cCtx, "cause")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					return svc.AddUpload(ctx, space, root, shards, cause)
				})
			},
		},
		{
			Name:  "shards",
			Usage: "List the shards of an upload.",
			Flags: []cli.Flag{SpaceFlag, rootFlag},
			Action: func(cCtx *cli.Context) error {
				space, err := parseDID(cCtx, "space")
				if err != nil {
					return err
				}
				root, err := parseLink(cCtx, "root")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					shards, err := svc.Uploads().ListShards(ctx, space, root)
					if err != nil {
						return err
					}
					for _, s := range shards {
						fmt.Println(s)
					}
					return nil
				})
			},
		},
		{
			Name:  "spaces",
			Usage: "List the spaces holding an upload.",
			Flags: []cli.Flag{rootFlag},
			Action: func(cCtx *cli.Context) error {
				root, err := parseLink(cCtx, "root")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					for entry, err := range svc.Uploads().ListUploads(ctx, root) {
						if err != nil {
							return err
						}
						printSpaceEntry(entry.Space, entry.InsertedAt)
					}
					return nil
				})
			},
		},
	},
}
