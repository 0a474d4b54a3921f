package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/LENAX/decision-engine/pkg/cli/decisionengine"
	"github.com/LENAX/decision-engine/pkg/cli/output"
)

var graphLabelsOnly bool

// graphCmd graph子命令
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "任务图工件命令",
	Long:  `查看decision run写出的任务图工件。`,
}

// graphShowCmd 查看任务图
var graphShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "查看run生成的任务图",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := decisionengine.New(serverURL)
		raw, err := client.GetGraph(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if graphLabelsOnly {
			var graph map[string]json.RawMessage
			if err := json.Unmarshal(raw, &graph); err != nil {
				output.Error("解析任务图失败: %v", err)
				return err
			}
			labels := make([]string, 0, len(graph))
			for label := range graph {
				labels = append(labels, label)
			}
			sort.Strings(labels)
			for _, label := range labels {
				fmt.Println(label)
			}
			fmt.Printf("\n总计: %d 个任务\n", len(graph))
			return nil
		}

		// 工件本身就是label->task定义的JSON，缩进后原样输出
		return output.PrintJSON(raw)
	},
}

func init() {
	graphShowCmd.Flags().BoolVar(&graphLabelsOnly, "labels", false, "只输出任务label列表")

	graphCmd.AddCommand(graphShowCmd)
}
