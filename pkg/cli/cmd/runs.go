package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LENAX/decision-engine/pkg/cli/decisionengine"
	"github.com/LENAX/decision-engine/pkg/cli/output"
)

var (
	runsStatus string
	runsLimit  int
	runsOffset int
)

// runsCmd runs子命令
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Decision run历史命令",
	Long:  `查询decision run历史与单次run的调度明细。`,
}

// runsListCmd 列出run历史
var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出decision run历史",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := decisionengine.New(serverURL)
		result, err := client.ListRuns(runsStatus, runsLimit, runsOffset)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无run记录")
			return nil
		}

		table := output.NewTable("RUN_ID", "TRIGGER", "STRATEGY", "STATUS", "TASKS", "STARTED", "DURATION")
		for _, run := range result.Items {
			duration := "-"
			if run.Duration != "" {
				duration = run.Duration
			}
			table.AddRow(
				run.ID,
				fmt.Sprintf("%s (L%d)", run.TriggerKind, run.BuildLevel),
				run.Strategy,
				formatStatus(run.Status),
				fmt.Sprintf("%d/%d", run.Scheduled, run.TotalTasks),
				run.StartedAt.Format("2006-01-02 15:04:05"),
				duration,
			)
		}
		table.Render()
		fmt.Printf("\n总计: %d 条记录\n", result.Total)
		return nil
	},
}

// runsShowCmd 查看run详情
var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "查看decision run调度明细",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := decisionengine.New(serverURL)
		run, err := client.GetRun(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(run)
		}

		fmt.Printf("Run:        %s\n", run.ID)
		fmt.Printf("Task Group: %s\n", run.TaskGroupID)
		fmt.Printf("Trigger:    %s (level %d)\n", run.TriggerKind, run.BuildLevel)
		fmt.Printf("Revision:   %s\n", run.Revision)
		if run.Branch != "" {
			fmt.Printf("Branch:     %s\n", run.Branch)
		}
		fmt.Printf("Strategy:   %s\n", run.Strategy)
		fmt.Printf("Status:     %s\n", formatStatus(run.Status))
		fmt.Printf("Tasks:      %d total / %d scheduled / %d cache hits\n",
			run.TotalTasks, run.Scheduled, run.CacheHits)
		fmt.Printf("Started:    %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
		if run.FinishedAt != nil {
			fmt.Printf("Finished:   %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
		}
		if run.Duration != "" {
			fmt.Printf("Duration:   %s\n", run.Duration)
		}
		if run.ErrorMessage != "" {
			fmt.Printf("Error:      %s\n", run.ErrorMessage)
		}

		if len(run.Tasks) == 0 {
			return nil
		}

		fmt.Println()
		table := output.NewTable("LABEL", "KIND", "WORKER", "TASK_ID", "CACHED")
		for _, t := range run.Tasks {
			cached := "-"
			if t.CacheHit {
				cached = "♻️ hit"
			}
			table.AddRow(t.Label, t.Kind, t.WorkerType, t.TaskID, cached)
		}
		table.Render()
		return nil
	},
}

func init() {
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "按状态过滤 (running/completed/failed)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "返回记录数量限制")
	runsListCmd.Flags().IntVar(&runsOffset, "offset", 0, "分页偏移")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}

// formatStatus 格式化状态显示
func formatStatus(status string) string {
	switch status {
	case "completed":
		return "✅ completed"
	case "failed":
		return "❌ failed"
	case "running":
		return "🔄 running"
	default:
		return status
	}
}
