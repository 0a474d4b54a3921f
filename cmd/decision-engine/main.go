package main

import (
	"github.com/LENAX/decision-engine/pkg/cli/cmd"
)

// CLI工具入口：触发decision run、查询run历史、查看任务图工件
func main() {
	cmd.Execute()
}
