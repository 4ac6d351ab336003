package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/xflatdb/xflat/interval"
)

var (
	shardWidth int64
	shardBase  int64
)

var shardsCmd = &cobra.Command{
	Use:   "shards <shard-dir>",
	Short: "List the shard files found in a directory and the interval each belongs to",
	Args:  cobra.ExactArgs(1),
	RunE:  shardsRun,
}

func init() {
	fs := shardsCmd.Flags()
	fs.Int64Var(&shardWidth, "width", 1000, "shard interval width")
	fs.Int64Var(&shardBase, "base", 0, "shard interval base")
	rootCmd.AddCommand(shardsCmd)
}

func shardsRun(cmd *cobra.Command, args []string) error {
	provider, err := interval.NewInt64Provider(shardWidth, shardBase)
	if err != nil {
		return fmt.Errorf("xflatctl: %s", err)
	}

	entries, err := os.ReadDir(args[0])
	if err != nil {
		return fmt.Errorf("xflatctl: %s", err)
	}

	type shard struct {
		name string
		iv   interval.Interval
	}
	var shards []shard
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".xml") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".xml")
		iv, ok := provider.GetIntervalByName(name)
		if !ok {
			continue
		}
		shards = append(shards, shard{name: name, iv: iv})
	}
	sort.Slice(shards, func(i, j int) bool { return provider.Less(shards[i].iv, shards[j].iv) })

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"file", "interval"})
	for _, s := range shards {
		tw.Append([]string{filepath.Join(args[0], s.name+".xml"), s.iv.String()})
	}
	tw.Render()
	return nil
}
