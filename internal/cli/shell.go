package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/docasync/internal/shell"
)

var openOnStart string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive docasync shell",
	Long: `Start a line-oriented shell. Every command is submitted as an
asynchronous operation and its outcome is printed when it arrives.
Type .help inside the shell for the command list.`,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
	shellCmd.Flags().StringVar(&openOnStart, "open", "", "database to open on start")
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	rt, err := setup(cfg)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	client := rt.newClient()
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	sh := shell.New(client, cfg.OpenConfig(), os.Stdout)
	if openOnStart != "" {
		sh.ExecuteLine(".open " + openOnStart)
	}
	if err := sh.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
