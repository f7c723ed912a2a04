package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chaos-io/sam2seg/handler"
)

// 构建时通过 -ldflags "-X" 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func buildInfo() handler.BuildInfo {
	return handler.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := buildInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "version: %s\nbuild time: %s\ngit commit: %s\ngit branch: %s\n",
				info.Version, info.BuildTime, info.GitCommit, info.GitBranch)
		},
	}
}
