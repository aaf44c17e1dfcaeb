package internal

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
)

// Version is set at link time.
var Version = "(devel)"

var verbosity int

var rootCmd = &cobra.Command{
	Use:   "apkbuild",
	Short: "apkbuild builds Android packages from a build manifest",
	Long: `apkbuild reads an application build manifest, resolves the native recipes
it requires, builds them for every target architecture and assembles the
results into an Android package.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: slog.Level(int(slog.LevelInfo) - 4*verbosity),
		})
		cmd.SetContext(logr.NewContext(cmd.Context(), logr.FromSlogHandler(handler)))
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "V", "Verbosity for apkbuild (repeat for more)")
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("{{ .Name }} {{ .Version }} " + runtime.Version() + "\n")
}

// Execute runs the command line with ctx. Errors are returned, not printed;
// see PrintError and ExitCode.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
