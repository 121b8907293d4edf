package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/AlecAivazis/survey/v2"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pterodactyl/sharefs/config"
	"github.com/pterodactyl/sharefs/handle"
	"github.com/pterodactyl/sharefs/loggers/cli"
	"github.com/pterodactyl/sharefs/system"
)

var (
	configPath = ""
	debug      = false
	useMocks   = false
	envFiles   = []string{".env"}

	// configErr is set when no usable configuration was found. It only
	// matters to commands that connect to the share.
	configErr error
)

var root = &cobra.Command{
	Use:           "sharefs",
	Short:         "Browse, copy and watch files on a remote share",
	Version:       system.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

func init() {
	root.PersistentFlags().StringVar(&configPath, "config", "", "set the location for the configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run in debug mode")
	root.PersistentFlags().BoolVar(&useMocks, "mock", false, "use the in-memory share instead of connecting to a server")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", envFiles, "files to load SHAREFS_* variables from")

	root.AddCommand(
		newLsCommand(),
		newCatCommand(),
		newStatCommand(),
		newMkdirCommand(),
		newRmCommand(),
		newPutCommand(),
		newWatchCommand(),
		newServeCommand(),
		newVersionCommand(),
		newConfigureCommand(),
		newDiagnosticsCommand(),
	)
}

// Execute runs the command line until ctx is canceled or the command
// returns.
func Execute(ctx context.Context) error {
	return root.ExecuteContext(ctx)
}

// initConfig loads the .env files and the configuration, then sets up
// logging. A missing configuration file is not an error here so commands
// that never connect keep working.
func initConfig() error {
	configErr = nil
	log.SetHandler(cli.Default)
	if err := config.LoadEnvironmentFiles(envFiles...); err != nil {
		return err
	}
	if useMocks {
		if err := os.Setenv(config.EnvUseMocks, "1"); err != nil {
			return errors.WithStack(err)
		}
	}

	p := configPath
	if p == "" {
		found, err := findConfiguration()
		if err != nil {
			return err
		}
		p = found
	}

	var c *config.Configuration
	if p != "" {
		var err error
		c, err = config.FromFile(p)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.WithMessage(err, "failed to load configuration")
		}
		if err != nil {
			configErr = errors.Errorf("no configuration file found at %s (run \"sharefs configure\")", p)
		}
	}
	if c == nil {
		var err error
		if c, err = config.NewAtPath(system.FirstNotEmpty(p, config.DefaultLocation)); err != nil {
			return err
		}
		if err := c.Finalize(); err != nil && configErr == nil {
			configErr = errors.WithMessage(err, "no usable configuration (run \"sharefs configure\" or pass --mock)")
		}
	}
	if debug {
		c.Debug = true
	}
	config.Set(c)

	configureLogging(c.LogDirectory, c.Debug)
	log.WithField("path", c.GetPath()).Debug("loaded configuration")
	return nil
}

// configureLogging writes to the terminal and, when the log directory is
// writable, to a rotatable log file as well.
func configureLogging(logDir string, debug bool) {
	cli.Default.Stacktraces = debug
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	if logDir == "" {
		return
	}

	p := filepath.Join(logDir, "sharefs.log")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		log.WithField("error", err).Debug("not writing a log file")
		return
	}
	w, err := logrotate.NewFile(p)
	if err != nil {
		log.WithField("error", err).Debug("not writing a log file")
		return
	}
	log.SetHandler(multi.New(cli.Default, cli.New(w.File, false)))
	log.WithField("path", p).Debug("writing log files to disk")
}

// connect mounts the configured share. A password is asked for on the
// terminal when the sftp backend has no credentials configured.
func connect(ctx context.Context) (*handle.Mount, error) {
	if configErr != nil {
		return nil, configErr
	}
	c := config.Get()
	if c.Share.Backend == config.BackendSftp && c.Share.Password == "" && c.Share.PrivateKey == "" {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return nil, errors.Errorf("no password configured for %s; set %s", c.Share.Address, config.EnvPassword)
		}
		prompt := &survey.Password{Message: fmt.Sprintf("Password for %s@%s:", c.Share.Username, c.Share.Address)}
		if err := survey.AskOne(prompt, &c.Share.Password); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	m, err := handle.Connect(ctx, c)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to connect to share")
	}
	return m, nil
}
