package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pterodactyl/sharefs/config"
	"github.com/pterodactyl/sharefs/system"
)

const DefaultLogLines = 200

var diagnosticsArgs struct {
	IncludeEndpoints bool
	IncludeLogs      bool
	LogLines         int
}

func newDiagnosticsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "diagnostics",
		Short: "Print a report about this installation and the configured share to assist in debugging",
		Args:  cobra.NoArgs,
		RunE:  diagnosticsCmdRun,
	}
	command.Flags().BoolVar(&diagnosticsArgs.IncludeEndpoints, "include-endpoints", false, "include server addresses and usernames in the report")
	command.Flags().BoolVar(&diagnosticsArgs.IncludeLogs, "include-logs", true, "include the latest lines of the log file")
	command.Flags().IntVar(&diagnosticsArgs.LogLines, "log-lines", DefaultLogLines, "the number of log lines to include in the report")
	return command
}

// diagnosticsCmdRun prints versions, the effective configuration without
// secrets, the outcome of connecting to the share and the latest logs.
func diagnosticsCmdRun(cmd *cobra.Command, args []string) error {
	if isatty.IsTerminal(os.Stdin.Fd()) && !cmd.Flags().Changed("include-endpoints") {
		prompt := &survey.Confirm{Message: "Do you want to include endpoints (i.e. the address of your share)?", Default: false}
		if err := survey.AskOne(prompt, &diagnosticsArgs.IncludeEndpoints); err != nil {
			return ignoreInterrupt(err)
		}
	}

	cfg := config.Get()
	output := &strings.Builder{}
	fmt.Fprintln(output, "sharefs - Diagnostics Report")

	printHeader(output, "Versions")
	fmt.Fprintln(output, "     sharefs:", system.Version)
	fmt.Fprintln(output, "          Go:", runtime.Version())
	fmt.Fprintln(output, "    Platform:", runtime.GOOS+"/"+runtime.GOARCH)

	printHeader(output, "Configuration")
	fmt.Fprintln(output, "        Path:", cfg.GetPath())
	if configErr != nil {
		fmt.Fprintln(output, "     Problem:", configErr)
	}
	fmt.Fprintln(output, "     Backend:", cfg.Share.Backend)
	fmt.Fprintln(output, "     Address:", redact(cfg.Share.Address))
	fmt.Fprintln(output, "    Username:", redact(cfg.Share.Username))
	fmt.Fprintln(output, "    Password:", cfg.Share.Password != "")
	fmt.Fprintln(output, " Private Key:", cfg.Share.PrivateKey != "")
	fmt.Fprintln(output, " Known Hosts:", cfg.Share.KnownHosts)
	fmt.Fprintln(output, "  Check Keys:", !cfg.Share.InsecureIgnoreHostKey)
	fmt.Fprintln(output, "        Root:", cfg.Share.Root)
	fmt.Fprintln(output, "     Workers:", cfg.Workers)
	fmt.Fprintln(output, "   Read Size:", system.FormatBytes(cfg.Transfer.MaxReadSize))
	fmt.Fprintln(output, "   Bandwidth:", bandwidth(cfg.Transfer.BytesPerSecond))
	fmt.Fprintln(output, "  Watch Poll:", cfg.PollInterval())
	fmt.Fprintln(output, "  Debug Mode:", cfg.Debug)
	fmt.Fprintln(output, " Report Time:", time.Now().Format(time.RFC1123Z))

	printHeader(output, "Share")
	reportShare(cmd.Context(), output)

	printHeader(output, "Latest Logs")
	if diagnosticsArgs.IncludeLogs {
		lines, err := tail(filepath.Join(cfg.LogDirectory, "sharefs.log"), diagnosticsArgs.LogLines)
		if err != nil {
			fmt.Fprintln(output, "No logs found or an error occurred.")
		} else {
			for _, l := range lines {
				fmt.Fprintln(output, l)
			}
		}
	} else {
		fmt.Fprintln(output, "Logs redacted.")
	}

	s := output.String()
	if !diagnosticsArgs.IncludeEndpoints {
		for _, v := range []string{cfg.Share.URL, cfg.Share.Address} {
			if v != "" {
				s = strings.ReplaceAll(s, v, "{redacted}")
			}
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\n---------------  generated report  ---------------")
	fmt.Fprintln(out, s)
	fmt.Fprint(out, "---------------   end of report    ---------------\n\n")
	return nil
}

// reportShare connects once and lists the root, timing both steps.
func reportShare(ctx context.Context, w io.Writer) {
	if configErr != nil {
		fmt.Fprintln(w, "Skipped, the configuration is not usable.")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	m, err := connect(ctx)
	if err != nil {
		fmt.Fprintln(w, "     Connect: failed:", err)
		return
	}
	defer m.Close()
	fmt.Fprintln(w, "     Connect:", time.Since(start).Round(time.Millisecond))

	start = time.Now()
	names, err := m.Root().Keys()
	if err != nil {
		fmt.Fprintln(w, "  List Root: failed:", err)
		return
	}
	fmt.Fprintf(w, "   List Root: %s (%d entries)\n", time.Since(start).Round(time.Millisecond), len(names))
}

func bandwidth(bps int64) string {
	if bps <= 0 {
		return "unlimited"
	}
	return system.FormatBytes(bps) + "/s"
}

// tail returns the last n lines of the file at p.
func tail(p string, n int) ([]string, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, sc.Err()
}

func redact(s string) string {
	if !diagnosticsArgs.IncludeEndpoints {
		return "{redacted}"
	}
	return s
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, "\n|\n|", title)
	fmt.Fprintln(w, "| ------------------------------")
}
