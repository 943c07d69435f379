package main

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/storacha/upload-service/cmd"
)

var log = logging.Logger("uploads")

func main() {
	app := &cli.App{
		Name:  "uploads",
		Usage: "Operate the upload service indexes.",
		Flags: cmd.GlobalFlags,
		Commands: []*cli.Command{
			cmd.StoreCmd,
			cmd.UploadCmd,
			cmd.DelegationCmd,
			cmd.RevocationCmd,
			cmd.ProvisionCmd,
			cmd.RateLimitCmd,
			cmd.MetricsCmd,
			cmd.TablesCmd,
			cmd.VersionCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
