package cmd

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/urfave/cli/v2"

	"github.com/storacha/upload-service/pkg/metrics"
	"github.com/storacha/upload-service/pkg/service/uploads"
)

var MetricsCmd = &cli.Command{
	Name:  "metrics",
	Usage: "Show usage counters.",
	Subcommands: []*cli.Command{
		{
			Name:  "admin",
			Usage: "Show service wide counters.",
			Action: func(cCtx *cli.Context) error {
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					for _, name := range []string{metrics.StoreAddTotal, metrics.StoreAddSizeTotal, metrics.UploadAddTotal} {
						v, err := svc.Metrics().GetAdmin(ctx, name)
						if err != nil {
							return err
						}
						fmt.Printf("%s\t%d\n", name, v)
					}
					return nil
				})
			},
		},
		{
			Name:  "space",
			Usage: "Show the counters of a space.",
			Flags: []cli.Flag{SpaceFlag},
			Action: func(cCtx *cli.Context) error {
				space, err := parseDID(cCtx, "space")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					counters, err := svc.Metrics().ListSpace(ctx, space)
					if err != nil {
						return err
					}
					for _, name := range slices.Sorted(maps.Keys(counters)) {
						fmt.Printf("%s\t%d\n", name, counters[name])
					}
					return nil
				})
			},
		},
	},
}
