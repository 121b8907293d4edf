package cmd

import (
	"os"
	"path/filepath"

	"emperror.dev/errors"

	"github.com/pterodactyl/sharefs/config"
)

// configurationCandidates lists where a configuration file is looked for
// when --config is not passed, most specific first.
func configurationCandidates() []string {
	out := []string{"config.yml"}
	if dir, err := os.UserConfigDir(); err == nil {
		out = append(out, filepath.Join(dir, "sharefs", "config.yml"))
	}
	return append(out, config.DefaultLocation)
}

// findConfiguration returns the first candidate that exists, or an empty
// string when there is none. Only unexpected stat failures are returned as
// errors.
func findConfiguration() (string, error) {
	for _, p := range configurationCandidates() {
		s, err := os.Stat(p)
		if err != nil {
			if !os.IsNotExist(err) && !os.IsPermission(err) {
				return "", errors.WithStack(err)
			}
			continue
		}
		if !s.IsDir() {
			return p, nil
		}
	}
	return "", nil
}

// userConfigLocation is where "configure" writes when no path is given.
func userConfigLocation() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sharefs", "config.yml")
	}
	return config.DefaultLocation
}
