package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/storacha/go-ucanto/did"
	"github.com/urfave/cli/v2"

	"github.com/storacha/upload-service/internal/linkutil"
	"github.com/storacha/upload-service/pkg/service/uploads"
	"github.com/storacha/upload-service/pkg/store/contentstore"
)

var linkFlag = &cli.StringFlag{
	Name:     "link",
	Aliases:  []string{"l"},
	Usage:    "CID of the stored object.",
	Required: true,
}

var StoreCmd = &cli.Command{
	Name:  "store",
	Usage: "Record and look up stored objects.",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "Record that an object was stored in a space.",
			Flags: []cli.Flag{
				SpaceFlag,
				linkFlag,
				&cli.Uint64Flag{
					Name:     "size",
					Usage:    "Size of the object in bytes.",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "origin",
					Usage: "CID of the previous shard, if any.",
				},
				&cli.StringFlag{
					Name:     "issuer",
					Usage:    "DID of the agent that stored the object.",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "invocation",
					Usage:    "CID of the invocation that authorized the write.",
					Required: true,
				},
			},
			Action: func(cCtx *cli.Context) error {
				space, err := parseDID(cCtx, "space")
				if err != nil {
					return err
				}
				link, err := parseLink(cCtx, "link")
				if err != nil {
					return err
				}
				origin, err := linkutil.ParseOptional(cCtx.String("origin"))
				if err != nil {
					return fmt.Errorf("parsing origin: %w", err)
				}
				issuer, err := parseDID(cCtx, "issuer")
				if err != nil {
					return err
				}
				inv, err := parseLink(cCtx, "invocation")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					return svc.AddStoredObject(ctx, contentstore.StoredObject{
						Space:      space,
						Link:       link,
						Size:       cCtx.Uint64("size"),
						Origin:     origin,
						Issuer:     issuer,
						Invocation: inv,
					})
				})
			},
		},
		{
			Name:  "get",
			Usage: "Show the record of an object stored in a space.",
			Flags: []cli.Flag{SpaceFlag, linkFlag},
			Action: func(cCtx *cli.Context) error {
				space, err := parseDID(cCtx, "space")
				if err != nil {
					return err
				}
				link, err := parseLink(cCtx, "link")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					obj, err := svc.Content().Get(ctx, space, link)
					if err != nil {
						return err
					}
					fmt.Printf("Space:      %s\n", obj.Space)
					fmt.Printf("Link:       %s\n", obj.Link)
					fmt.Printf("Size:       %d\n", obj.Size)
					if obj.Origin != nil {
						fmt.Printf("Origin:     %s\n", obj.Origin)
					}
					fmt.Printf("Issuer:     %s\n", obj.Issuer)
					fmt.Printf("Invocation: %s\n", obj.Invocation)
					fmt.Printf("Inserted:   %s\n", formatTime(obj.InsertedAt))
					return nil
				})
			},
		},
		{
			Name:  "spaces",
			Usage: "List the spaces an object is stored in.",
			Flags: []cli.Flag{linkFlag},
			Action: func(cCtx *cli.Context) error {
				link, err := parseLink(cCtx, "link")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					for entry, err := range svc.Content().ListSpaces(ctx, link) {
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

func printSpaceEntry(space did.DID, insertedAt time.Time) {
	if insertedAt.IsZero() {
		fmt.Println(space)
		return
	}
	fmt.Printf("%s\t%s\n", space, formatTime(insertedAt))
}
