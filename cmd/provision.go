package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/storacha/upload-service/pkg/service/uploads"
)

var subscriptionFlag = &cli.StringFlag{
	Name:     "subscription",
	Usage:    "Subscription identifier.",
	Required: true,
}

var ProvisionCmd = &cli.Command{
	Name:  "provision",
	Usage: "Subscription and consumer tools.",
	Subcommands: []*cli.Command{
		{
			Name:  "add",
			Usage: "Provision a space for a customer at a provider.",
			Flags: []cli.Flag{
				ProviderFlag,
				&cli.StringFlag{
					Name:     "customer",
					Usage:    "DID of the paying account.",
					Required: true,
				},
				&cli.StringFlag{
					Name:     "consumer",
					Usage:    "DID of the space being provisioned.",
					Required: true,
				},
				subscriptionFlag,
				CauseFlag,
			},
			Action: func(cCtx *cli.Context) error {
				req := uploads.ProvisionRequest{Subscription: cCtx.String("subscription")}
				var err error
				if req.Provider, err = parseDID(cCtx, "provider"); err != nil {
					return err
				}
				if req.Customer, err = parseDID(cCtx, "customer"); err != nil {
					return err
				}
				if req.Consumer, err = parseDID(cCtx, "consumer"); err != nil {
					return err
				}
				if req.Cause, err = parseLink(cCtx, "cause"); err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					return svc.Provision(ctx, req)
				})
			},
		},
		{
			Name:  "get",
			Usage: "Show a subscription and its consumer.",
			Flags: []cli.Flag{ProviderFlag, subscriptionFlag},
			Action: func(cCtx *cli.Context) error {
				provider, err := parseDID(cCtx, "provider")
				if err != nil {
					return err
				}
				id := cCtx.String("subscription")
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					sub, err := svc.Subscriptions().Get(ctx, id, provider)
					if err != nil {
						return err
					}
					fmt.Printf("Subscription: %s\n", sub.Subscription)
					fmt.Printf("Provider:     %s\n", sub.Provider)
					fmt.Printf("Customer:     %s\n", sub.Customer)
					fmt.Printf("Cause:        %s\n", sub.Cause)
					c, err := svc.Consumers().Get(ctx, id, provider)
					if err != nil {
						log.Debugw("no consumer", "subscription", id, "error", err)
						return nil
					}
					fmt.Printf("Consumer:     %s\n", c.Consumer)
					return nil
				})
			},
		},
		{
			Name:  "customers",
			Usage: "List the customers of a provider.",
			Flags: []cli.Flag{ProviderFlag},
			Action: func(cCtx *cli.Context) error {
				provider, err := parseDID(cCtx, "provider")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					customers, err := svc.Subscriptions().ListCustomers(ctx, provider)
					if err != nil {
						return err
					}
					for _, c := range customers {
						fmt.Println(c)
					}
					return nil
				})
			},
		},
		{
			Name:  "consumers",
			Usage: "List the consumers of a provider.",
			Flags: []cli.Flag{ProviderFlag},
			Action: func(cCtx *cli.Context) error {
				provider, err := parseDID(cCtx, "provider")
				if err != nil {
					return err
				}
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					consumers, err := svc.Consumers().ListConsumers(ctx, provider)
					if err != nil {
						return err
					}
					for _, c := range consumers {
						fmt.Println(c)
					}
					return nil
				})
			},
		},
		{
			Name:  "reconcile",
			Usage: "List consumers whose subscription is missing.",
			Action: func(cCtx *cli.Context) error {
				return withService(cCtx, func(ctx context.Context, svc *uploads.UploadService) error {
					orphans, err := svc.ReconcileConsumers(ctx)
					if err != nil {
						return err
					}
					for _, c := range orphans {
						fmt.Printf("%s\t%s\t%s\n", c.Provider, c.Subscription, c.Consumer)
					}
					return nil
				})
			},
		},
	},
}
