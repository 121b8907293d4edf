package cmd

import (
	"fmt"
	"net/url"
	"os"

	"emperror.dev/errors"
	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/spf13/cobra"

	"github.com/pterodactyl/sharefs/config"
)

var configureArgs struct {
	Backend  string
	URL      string
	Username string
	Insecure bool
	Override bool
}

func newConfigureCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "configure",
		Short: "Write a configuration file by answering a few questions",
		Args:  cobra.NoArgs,
		RunE:  configureCmdRun,
	}
	command.Flags().StringVar(&configureArgs.URL, "url", "", "the share to connect to, e.g. sftp://user@host:22/path")
	command.Flags().BoolVar(&configureArgs.Override, "override", false, "override an existing configuration file")
	return command
}

func validateShareURL(ans interface{}) error {
	s, ok := ans.(string)
	if !ok {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != config.BackendSftp || u.Host == "" {
		return errors.New("the url must look like sftp://host[:port][/path]")
	}
	return nil
}

func configureCmdRun(cmd *cobra.Command, args []string) error {
	p := configPath
	if p == "" {
		p = userConfigLocation()
	}

	if _, err := os.Stat(p); err == nil && !configureArgs.Override {
		if err := survey.AskOne(&survey.Confirm{Message: "Override existing configuration file " + p + "?"}, &configureArgs.Override); err != nil {
			return ignoreInterrupt(err)
		}
		if !configureArgs.Override {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	questions := []*survey.Question{
		{
			Name: "Backend",
			Prompt: &survey.Select{
				Message: "Backend:",
				Options: []string{config.BackendSftp, config.BackendMemory},
				Default: config.BackendSftp,
			},
		},
	}
	if err := survey.Ask(questions, &configureArgs); err != nil {
		return ignoreInterrupt(err)
	}

	c, err := config.NewAtPath(p)
	if err != nil {
		return err
	}
	c.Share.Backend = configureArgs.Backend

	if configureArgs.Backend == config.BackendSftp {
		questions = nil
		if configureArgs.URL == "" {
			questions = append(questions, &survey.Question{
				Name:     "URL",
				Prompt:   &survey.Input{Message: "Share URL:", Help: "sftp://host[:port][/path], the path becomes the root of the share"},
				Validate: survey.ComposeValidators(survey.Required, validateShareURL),
			})
		}
		questions = append(questions,
			&survey.Question{
				Name:   "Username",
				Prompt: &survey.Input{Message: "Username:"},
			},
			&survey.Question{
				Name: "Insecure",
				Prompt: &survey.Confirm{
					Message: "Skip host key verification?",
					Help:    "Only for local development servers. Otherwise the server must be listed in your known_hosts file.",
				},
			},
		)
		if err := survey.Ask(questions, &configureArgs); err != nil {
			return ignoreInterrupt(err)
		}
		if err := validateShareURL(configureArgs.URL); err != nil {
			return err
		}
		c.Share.URL = configureArgs.URL
		c.Share.Username = configureArgs.Username
		c.Share.InsecureIgnoreHostKey = configureArgs.Insecure
	}

	if err := c.WriteToDisk(); err != nil {
		return errors.WithMessage(err, "failed to write configuration")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s.\n", p)
	if c.Share.Backend == config.BackendSftp {
		fmt.Fprintf(cmd.OutOrStdout(), "Passwords are never stored there; set %s or add it to a .env file.\n", config.EnvPassword)
	}
	return nil
}

func ignoreInterrupt(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return nil
	}
	return errors.WithStack(err)
}
