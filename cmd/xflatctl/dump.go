package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/xflatdb/xflat/xmlrow"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <table-file>",
	Short: "Print every row and version in a table file",
	Args:  cobra.ExactArgs(1),
	RunE:  dumpRun,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}

func dumpRun(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("xflatctl: %s", err)
	}
	defer f.Close()

	tableName, rows, err := xmlrow.Decode(f)
	if err != nil {
		return fmt.Errorf("xflatctl: %s", err)
	}

	fmt.Printf("table: %s\n", tableName)

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"row id", "tx", "commit", "tombstone", "content"})

	for _, rv := range rows {
		for _, d := range rv.Data {
			content := ""
			tombstone := "no"
			if d.Element == nil {
				tombstone = "yes"
			} else {
				content = string(d.Element.XML)
			}
			tw.Append([]string{
				rv.RowID,
				fmt.Sprintf("%d", d.TransactionID),
				fmt.Sprintf("%d", d.CommitID),
				tombstone,
				content,
			})
		}
	}
	tw.Render()
	return nil
}
