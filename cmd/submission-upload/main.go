// Command submission-upload uploads files through the upload URL service and
// prints the hidden form field describing them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/artist-submissions/go-uploadkit/formgate"
	"github.com/artist-submissions/go-uploadkit/registry"
	"github.com/artist-submissions/go-uploadkit/uploadconf"
	"github.com/artist-submissions/go-uploadkit/uploads"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type options struct {
	Files        []string
	Titles       []string
	Descriptions []string
	EnvFile      string
}

func addFlags(flagSet *pflag.FlagSet, o *options) {
	flagSet.StringArrayVarP(&o.Files, "file", "f", nil, "file to upload, glob patterns such as 'art/**/*.png' are expanded")
	flagSet.StringArrayVarP(&o.Titles, "title", "t", nil, "title of a file as <file name>=<title>")
	flagSet.StringArrayVarP(&o.Descriptions, "description", "d", nil, "description of a file as <file name>=<description>")
	flagSet.StringVar(&o.EnvFile, "env-file", ".env", "dotenv file read before the environment")
}

func main() {
	logger := log.NewLogger()
	if err := run(os.Args[1:], logger); err != nil {
		logger.Errorf("%s", err)
		os.Exit(1)
	}
}

func run(args []string, logger log.Logger) error {
	var opts options
	flags := pflag.NewFlagSet("submission-upload", pflag.ContinueOnError)
	addFlags(flags, &opts)
	if err := flags.Parse(args); err != nil {
		return err
	}
	opts.Files = append(opts.Files, flags.Args()...)
	if len(opts.Files) == 0 {
		return errors.New("no files given")
	}

	if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", opts.EnvFile, err)
	}

	cfg, err := uploadconf.LoadClient(env.NewRepository())
	if err != nil {
		return err
	}
	logger.EnableDebugLog(cfg.Verbose)
	cfg.Print(logger.Printf)
	logger.Println()

	titles, err := parseAssignments(opts.Titles)
	if err != nil {
		return err
	}
	descriptions, err := parseAssignments(opts.Descriptions)
	if err != nil {
		return err
	}

	orchestrator, err := uploads.NewFromConfig(cfg, logger)
	if err != nil {
		return err
	}

	paths, err := evaluatePaths(opts.Files, pathutil.NewPathModifier(), pathutil.NewPathChecker(), logger)
	if err != nil {
		return err
	}
	for _, path := range paths {
		src, err := registry.NewFileSource(path, nil)
		if err != nil {
			logger.Warnf("Skipping %s: %s", path, err)
			continue
		}
		orchestrator.AddFiles(src)
	}

	for _, entry := range orchestrator.Files() {
		if err := orchestrator.SetMetadata(entry.ID, titles[entry.Name], descriptions[entry.Name]); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	form := newOutputForm(os.Stdout)
	result := formgate.New(orchestrator, form, logger).Intercept(ctx)
	switch result.Decision {
	case formgate.Pass:
		return form.Submit(ctx)
	case formgate.Resubmitted:
		return nil
	default:
		return fmt.Errorf("submission blocked (%s): %s", result.Reason, result.Message)
	}
}
