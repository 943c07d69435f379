package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/storacha/upload-service/pkg/build"
)

var VersionCmd = &cli.Command{
	Name:  "version",
	Usage: "Version information.",
	Action: func(cCtx *cli.Context) error {
		fmt.Println(build.Version)
		return nil
	},
}
