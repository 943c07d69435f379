package cmd

import "github.com/urfave/cli/v2"

func RequiredStringFlag(strFlag *cli.StringFlag) *cli.StringFlag {
	copy := *strFlag
	copy.Required = true
	return &copy
}

// GlobalFlags configure the service every command runs against. They map
// onto the fields of config.Service and override the config file and
// UPLOAD_* environment variables.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "Path to configuration file.",
	},
	&cli.StringFlag{
		Name:  "backend",
		Usage: "Where indexes are kept: datastore or dynamo.",
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "Logging level.",
	},
	&cli.StringFlag{
		Name:    "data-dir",
		Aliases: []string{"d"},
		Usage:   "Root directory of the datastore backend.",
	},
	&cli.StringFlag{
		Name:  "dynamo-endpoint",
		Usage: "DynamoDB endpoint override, e.g. for dynamodb-local.",
	},
	&cli.StringFlag{
		Name:  "dynamo-region",
		Usage: "AWS region of the DynamoDB tables.",
	},
	&cli.StringFlag{
		Name:  "table-prefix",
		Usage: "Prefix of the DynamoDB table names.",
	},
	&cli.StringFlag{
		Name:  "archive-bucket",
		Usage: "S3 bucket delegation archives are stored in.",
	},
	&cli.StringFlag{
		Name:  "archive-prefix",
		Usage: "Key prefix of delegation archives.",
	},
	&cli.StringFlag{
		Name:  "archive-endpoint",
		Usage: "S3 endpoint override for the delegation archive.",
	},
	&cli.StringFlag{
		Name:  "metrics-queue-url",
		Usage: "SQS queue metric events are additionally published to.",
	},
	&cli.IntFlag{
		Name:  "metrics-buffer",
		Usage: "Number of metric events buffered before new ones are dropped.",
	},
	&cli.StringFlag{
		Name:  "sentry-dsn",
		Usage: "Sentry DSN errors are reported to.",
	},
	&cli.StringFlag{
		Name:  "sentry-environment",
		Usage: "Sentry environment.",
	},
}

var SpaceFlag = &cli.StringFlag{
	Name:     "space",
	Aliases:  []string{"s"},
	Usage:    "DID of the space.",
	Required: true,
}

var CauseFlag = &cli.StringFlag{
	Name:     "cause",
	Usage:    "CID of the invocation that caused the change.",
	Required: true,
}

var ProviderFlag = &cli.StringFlag{
	Name:     "provider",
	Aliases:  []string{"p"},
	Usage:    "DID of the storage provider.",
	Required: true,
}
