package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd はルートコマンドを作成します。サブコマンド省略時は serve を実行します。
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "members-portal",
		Short:        "Members portal web server",
		SilenceUsage: true,
		RunE:         runServe,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// NewServeCmd は serve サブコマンドを作成します。
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
}
