package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/pterodactyl/sharefs/handle"
	"github.com/pterodactyl/sharefs/vfs"
)

func newWatchCommand() *cobra.Command {
	var (
		asJSON    bool
		recursive bool
		events    []string
	)
	command := &cobra.Command{
		Use:   "watch [path]",
		Short: "Print changes below a directory on the share until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mask, err := vfs.ParseNotifyOps(events)
			if err != nil {
				return err
			}
			mode := vfs.WatchDefault
			if recursive {
				mode = vfs.WatchRecursive
			}
			return withMount(cmd, func(ctx context.Context, root *handle.DirectoryHandle) error {
				dir, err := lookupDir(root, argOr(args, vfs.Root))
				if err != nil {
					return err
				}
				p := newEventPrinter(cmd.OutOrStdout(), asJSON)
				return watch(ctx, dir, mode, mask, p.print)
			})
		},
	}
	command.Flags().BoolVar(&asJSON, "json", false, "print one JSON object per event")
	command.Flags().BoolVarP(&recursive, "recursive", "r", true, "report changes anywhere below the directory")
	command.Flags().StringSliceVar(&events, "events", nil, "only report these operations (create, write, remove, rename, ...)")
	return command
}

// watch blocks until ctx is done or the subscription fails for good.
func watch(ctx context.Context, dir *handle.DirectoryHandle, mode vfs.WatchMode, mask vfs.NotifyOp, fn vfs.WatchFunc) error {
	sub, err := dir.WatchWith(mode, mask, fn)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		sub.Cancel()
		sub.Wait()
		return nil
	case <-sub.Done():
		return sub.Err()
	}
}

type eventLine struct {
	Time time.Time `json:"time"`
	vfs.NotifyEvent
}

type eventPrinter struct {
	mu     sync.Mutex
	w      io.Writer
	asJSON bool
	enc    *json.Encoder
	now    func() time.Time
}

func newEventPrinter(w io.Writer, asJSON bool) *eventPrinter {
	return &eventPrinter{w: w, asJSON: asJSON, enc: json.NewEncoder(w), now: time.Now}
}

func (p *eventPrinter) print(e vfs.NotifyEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.asJSON {
		_ = p.enc.Encode(eventLine{Time: p.now().UTC(), NotifyEvent: e})
		return
	}
	line := fmt.Sprintf("%s  %-6s  %s", p.now().Format(time.RFC3339), e.Action, e.Path)
	if e.FromPath != "" {
		line += " (from " + e.FromPath + ")"
	}
	fmt.Fprintln(p.w, line)
}
