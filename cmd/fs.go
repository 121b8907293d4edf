package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/pterodactyl/sharefs/handle"
	"github.com/pterodactyl/sharefs/system"
	"github.com/pterodactyl/sharefs/vfs"
)

type statter interface {
	Stat() (handle.Stat, error)
}

func argOr(args []string, def string) string {
	if len(args) > 0 {
		return args[0]
	}
	return def
}

// withMount connects, runs fn against the root of the share and unmounts.
func withMount(cmd *cobra.Command, fn func(ctx context.Context, root *handle.DirectoryHandle) error) error {
	m, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(cmd.Context(), m.Root())
}

func newLsCommand() *cobra.Command {
	var long bool
	command := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory on the share",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMount(cmd, func(ctx context.Context, root *handle.DirectoryHandle) error {
				return list(ctx, cmd.OutOrStdout(), root, argOr(args, vfs.Root), long)
			})
		},
	}
	command.Flags().BoolVarP(&long, "long", "l", false, "show the size and modification time of every entry")
	return command
}

func list(ctx context.Context, w io.Writer, root *handle.DirectoryHandle, p string, long bool) error {
	e, err := lookup(root, p)
	if err != nil {
		return err
	}
	d, ok := e.(*handle.DirectoryHandle)
	if !ok {
		return printEntry(w, e, long)
	}

	it, err := handle.Await(ctx, handle.Go(d.Mount(), d.Entries))
	if err != nil {
		return err
	}
	for {
		_, child, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := printEntry(w, child, long); err != nil {
			return err
		}
	}
}

func printEntry(w io.Writer, e handle.Entry, long bool) error {
	name := e.Name()
	if e.Kind() == handle.KindDirectory {
		name += "/"
	}
	if !long {
		_, err := fmt.Fprintln(w, name)
		return err
	}
	st, err := e.(statter).Stat()
	if err != nil {
		return err
	}
	mtime := time.Unix(0, st.ModifiedTime).Format("Jan _2 15:04")
	_, err = fmt.Fprintf(w, "%-9s %10s  %s  %s\n", e.Kind(), system.FormatBytes(st.Size), mtime, name)
	return err
}

func newCatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print the contents of a file on the share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMount(cmd, func(_ context.Context, root *handle.DirectoryHandle) error {
				return cat(cmd.OutOrStdout(), root, args[0])
			})
		},
	}
}

func cat(w io.Writer, root *handle.DirectoryHandle, p string) error {
	fh, err := lookupFile(root, p)
	if err != nil {
		return err
	}
	f, err := fh.GetFile()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f.Stream())
	return err
}

type statOutput struct {
	handle.Stat
	Kind handle.Kind `json:"kind"`
	Name string      `json:"name"`
	Path string      `json:"path"`
	Type string      `json:"type,omitempty"`
}

func newStatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show the metadata of an entry on the share as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMount(cmd, func(_ context.Context, root *handle.DirectoryHandle) error {
				return stat(cmd.OutOrStdout(), root, args[0])
			})
		},
	}
}

func stat(w io.Writer, root *handle.DirectoryHandle, p string) error {
	e, err := lookup(root, p)
	if err != nil {
		return err
	}
	st, err := e.(statter).Stat()
	if err != nil {
		return err
	}
	out := statOutput{Stat: st, Kind: e.Kind(), Name: e.Name(), Path: e.Path()}
	if fh, ok := e.(*handle.FileHandle); ok {
		f, err := fh.GetFile()
		if err != nil {
			return err
		}
		out.Type = f.Type
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func newMkdirCommand() *cobra.Command {
	var parents bool
	command := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory on the share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMount(cmd, func(_ context.Context, root *handle.DirectoryHandle) error {
				return mkdir(root, args[0], parents)
			})
		},
	}
	command.Flags().BoolVarP(&parents, "parents", "p", false, "create missing parent directories as well")
	return command
}

func mkdir(root *handle.DirectoryHandle, p string, parents bool) error {
	if parents {
		_, err := makeDirs(root, p)
		return err
	}
	dir, name, err := lookupParent(root, p)
	if err != nil {
		return err
	}
	if _, err := dir.GetDirectoryHandle(name, false); err == nil {
		return vfs.Errorf(vfs.ErrCodeExists, "%s already exists", p)
	}
	_, err = dir.GetDirectoryHandle(name, true)
	return err
}

func newRmCommand() *cobra.Command {
	var recursive bool
	command := &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a file or directory from the share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMount(cmd, func(_ context.Context, root *handle.DirectoryHandle) error {
				return remove(root, args[0], recursive)
			})
		},
	}
	command.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove directories and their contents")
	return command
}

func remove(root *handle.DirectoryHandle, p string, recursive bool) error {
	dir, name, err := lookupParent(root, p)
	if err != nil {
		return err
	}
	return dir.RemoveEntry(name, recursive)
}
