package cmd

import (
	"fmt"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pterodactyl/sharefs/config"
	"github.com/pterodactyl/sharefs/sftpd"
	"github.com/pterodactyl/sharefs/vfs/memory"
)

func newServeCommand() *cobra.Command {
	var (
		listen   string
		data     string
		readOnly bool
		empty    bool
	)
	command := &cobra.Command{
		Use:   "serve",
		Short: "Serve an in-memory share over SFTP for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get().Sftpd
			if listen != "" {
				cfg.Address = listen
			}
			if data != "" {
				cfg.DataDirectory = data
			}
			if cmd.Flags().Changed("read-only") {
				cfg.ReadOnly = readOnly
			}
			if cfg.Password == "" {
				cfg.Password = uuid.New().String()
				log.WithField("password", cfg.Password).Warn("no sftpd password configured, generated one for this run")
			}

			store := memory.New(memory.WithMaxReadSize(config.Get().Transfer.MaxReadSize))
			if empty {
				store = memory.NewEmpty(memory.WithMaxReadSize(config.Get().Transfer.MaxReadSize))
			}
			log.WithFields(log.Fields{
				"url":       fmt.Sprintf("sftp://%s@%s/", cfg.Username, cfg.Address),
				"read_only": cfg.ReadOnly,
			}).Info("serving in-memory share")

			return sftpd.New(store.Dialer(), cfg).Run(cmd.Context())
		},
	}
	command.Flags().StringVar(&listen, "listen", "", "address to listen on, overrides sftpd.address")
	command.Flags().StringVar(&data, "data", "", "directory holding the server host key, overrides sftpd.data")
	command.Flags().BoolVar(&readOnly, "read-only", false, "refuse every change made by clients")
	command.Flags().BoolVar(&empty, "empty", false, "start with an empty share instead of the sample tree")
	return command
}
