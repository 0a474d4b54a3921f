package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/LENAX/decision-engine/pkg/api/dto"
	"github.com/LENAX/decision-engine/pkg/cli/decisionengine"
	"github.com/LENAX/decision-engine/pkg/cli/output"
)

var (
	runTrigger  string
	runTitle    string
	runLevel    int
	runRevision string
	runRef      string
	runOwner    string
	runSource   string
	runGroupID  string
	runPhase    string
)

// runCmd 触发decision run
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "触发一次decision run",
	Long: `触发一次decision run：加载kind配置、展开任务图、按策略筛选并调度任务。

示例：
  # 对push触发完整CI
  decision-engine run --trigger push --level 3 --revision abc123 --ref refs/heads/main

  # 对PR触发（标题里的[ci skip]等标签会被解析）
  decision-engine run --trigger pull-request --level 1 --revision abc123 --title "修复构建 [ci full]"

  # 发布阶段
  decision-engine run --trigger tag-release --level 3 --revision abc123 --phase promote`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := decisionengine.New(serverURL)

		req := dto.TriggerRunRequest{
			TriggerKind:   runTrigger,
			TriggerTitle:  runTitle,
			BuildLevel:    runLevel,
			Revision:      runRevision,
			Ref:           runRef,
			Owner:         runOwner,
			Source:        runSource,
			TaskGroupID:   runGroupID,
			ShippingPhase: runPhase,
		}

		result, err := client.TriggerRun(req)
		if err != nil {
			output.Error("触发失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		output.Success("Decision run完成: %s", result.RunID)
		fmt.Printf("Task Group: %s\n", result.TaskGroupID)
		fmt.Printf("Strategy:   %s\n", result.Strategy)
		fmt.Printf("Tasks:      %d total / %d scheduled / %d cache hits\n",
			result.TotalTasks, result.Scheduled, result.CacheHits)
		fmt.Printf("Elapsed:    %s\n", result.Elapsed)

		if len(result.LabelToTaskID) == 0 {
			output.Info("本次run未选中任何任务")
			return nil
		}

		// 按label排序，输出稳定
		labels := make([]string, 0, len(result.LabelToTaskID))
		for label := range result.LabelToTaskID {
			labels = append(labels, label)
		}
		sort.Strings(labels)

		fmt.Println()
		table := output.NewTable("LABEL", "TASK_ID")
		for _, label := range labels {
			table.AddRow(label, result.LabelToTaskID[label])
		}
		table.Render()
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runTrigger, "trigger", "t", "push", "触发类型 (pull-request/push/tag-release/cron)")
	runCmd.Flags().StringVar(&runTitle, "title", "", "触发标题（PR标题中的[ci skip]/[ci full]等标签会被解析）")
	runCmd.Flags().IntVarP(&runLevel, "level", "l", 1, "构建信任级别 (1-3)")
	runCmd.Flags().StringVarP(&runRevision, "revision", "r", "", "代码revision")
	runCmd.Flags().StringVar(&runRef, "ref", "", "git ref（如refs/heads/main）")
	runCmd.Flags().StringVar(&runOwner, "owner", "", "触发人邮箱")
	runCmd.Flags().StringVar(&runSource, "source", "", "仓库地址")
	runCmd.Flags().StringVar(&runGroupID, "group", "", "task group ID（不指定时自动生成）")
	runCmd.Flags().StringVar(&runPhase, "phase", "", "发布阶段 (promote/ship)")
}
