package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/storacha/upload-service/pkg/aws"
)

var TablesCmd = &cli.Command{
	Name:  "tables",
	Usage: "DynamoDB table management.",
	Subcommands: []*cli.Command{
		{
			Name:  "create",
			Usage: "Create every table that does not exist yet.",
			Action: func(cCtx *cli.Context) error {
				cfg, err := loadConfig(cCtx)
				if err != nil {
					return err
				}
				awsCfg, err := loadAWSConfig(cCtx.Context, cfg)
				if err != nil {
					return err
				}
				names := aws.DefaultTableNames(cfg.Dynamo.TablePrefix)
				if err := aws.CreateTables(cCtx.Context, awsCfg, names, dynamoOptions(cfg)...); err != nil {
					return err
				}
				fmt.Printf("Tables ready with prefix %q\n", cfg.Dynamo.TablePrefix)
				return nil
			},
		},
	},
}
