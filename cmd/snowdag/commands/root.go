package commands

import (
	"github.com/mosaicnetworks/snowdag/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for snowdag
var RootCmd = &cobra.Command{
	Use:              "snowdag",
	Short:            "snowball consensus on a DAG ledger",
	TraverseChildren: true,
}
