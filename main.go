package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jimmitjoo/bgerase/actions"
	"github.com/jimmitjoo/bgerase/services/backgrounderase"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

// usageError marks wrong invocations, which exit with exitUsage.
type usageError struct {
	error
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		verbose bool
		presign time.Duration
		region  string
	)

	cmd := &cobra.Command{
		Use:   "bgerase <source_image_path> <destination_path> [api_key]",
		Short: "Remove the background of an image with the BackgroundErase API",
		Long: "Uploads an image to the BackgroundErase API and saves the returned image.\n" +
			"The API key is taken from the third argument, " + backgrounderase.APIKeyEnv +
			", or the key compiled into the binary, in that order.\n" +
			"The destination may be a local path or an s3://bucket/key URI.",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 || len(args) > 3 {
				return usageError{fmt.Errorf("expected 2 or 3 arguments, got %d", len(args))}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logrus.SetOutput(stderr)
			logrus.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var explicit string
			if len(args) == 3 {
				explicit = args[2]
			}

			client := backgrounderase.NewClient()
			defer client.Close()

			return actions.RemoveBackground(cmd.Context(), client, args[0], args[1],
				backgrounderase.ResolveAPIKey(explicit), actions.Options{
					Presign: presign,
					Region:  region,
					Out:     cmd.OutOrStdout(),
				})
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log request details")
	cmd.Flags().DurationVar(&presign, "presign", 0, "for s3:// destinations, print a presigned download link valid this long")
	cmd.Flags().StringVar(&region, "region", "", "AWS region for s3:// destinations")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.AddCommand(newServeCmd())
	return cmd
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return 0
	}

	var (
		usage        usageError
		precondition *backgrounderase.PreconditionError
		server       *backgrounderase.ServerError
	)
	switch {
	case errors.As(err, &usage):
		fmt.Fprintln(stderr, err)
		fmt.Fprint(stderr, cmd.UsageString())
		return exitUsage
	case errors.As(err, &precondition):
		fmt.Fprintln(stderr, err)
		if errors.Is(err, backgrounderase.ErrMissingAPIKey) {
			fmt.Fprintf(stderr, "Provide api_key or set %s environment variable.\n", backgrounderase.APIKeyEnv)
		}
		return exitUsage
	case errors.As(err, &server):
		fmt.Fprintf(stderr, "%d %s\n%s\n", server.StatusCode, http.StatusText(server.StatusCode), server.Body)
		return exitFailure
	default:
		fmt.Fprintln(stderr, err)
		return exitFailure
	}
}

func main() {
	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
