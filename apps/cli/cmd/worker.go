package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/minitest/packages/logging"
	"github.com/abdul-hamid-achik/minitest/packages/parallel"
)

var workerIDFlag string

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve test files for a parent run over stdin and stdout",
	Hidden: true,
	Args:   cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(serveWorker(cmd))
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerIDFlag, strings.TrimPrefix(parallel.WorkerIDFlag, "--"), "", "Worker id assigned by the pool")
}

// serveWorker runs the worker loop until the parent sends shutdown or closes
// stdin. Interrupts are left to the parent, which stops its workers itself.
func serveWorker(cmd *cobra.Command) int {
	signal.Ignore(os.Interrupt)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	logger := logging.New(cmd.ErrOrStderr(), logging.LevelFor(getEnvBool("MINITEST_VERBOSE", false), false), true)
	logger = logging.Component(logger, "worker").With("id", workerIDFlag)

	return parallel.ServeStdio(ctx, workerIDFlag, scriptLoaders(logger), cmd.InOrStdin(), cmd.OutOrStdout(),
		parallel.WithWorkerLogger(logger),
	)
}
