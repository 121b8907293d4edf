package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/karrick/godirwalk"
	"github.com/mattn/go-isatty"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pterodactyl/sharefs/config"
	"github.com/pterodactyl/sharefs/handle"
	"github.com/pterodactyl/sharefs/internal/progress"
	"github.com/pterodactyl/sharefs/system"
)

func newPutCommand() *cobra.Command {
	var excludes []string
	command := &cobra.Command{
		Use:   "put <local> [remote directory]",
		Short: "Upload a file or directory tree to the share",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMount(cmd, func(ctx context.Context, root *handle.DirectoryHandle) error {
				dst, err := makeDirs(root, argOr(args[1:], "/"))
				if err != nil {
					return err
				}
				u := newUploader(args[0], excludes, config.Get().Workers, config.Get().Transfer.MaxReadSize)
				if isatty.IsTerminal(os.Stderr.Fd()) {
					stop := u.report(cmd.ErrOrStderr(), 250*time.Millisecond)
					err = u.Run(ctx, dst)
					stop()
				} else {
					err = u.Run(ctx, dst)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d files (%s)\n", u.Files(), system.FormatBytes(u.Bytes()))
				return nil
			})
		},
	}
	command.Flags().StringArrayVarP(&excludes, "exclude", "e", nil, "gitignore style pattern of local paths to skip, may be repeated")
	return command
}

// uploader copies a local file or tree into a directory on the share.
// Directories are created in walk order, then files are copied with a
// bounded number of uploads in flight.
type uploader struct {
	src     string
	ignore  *ignore.GitIgnore
	workers int
	chunk   int

	files    atomic.Int64
	progress *progress.Progress
}

func newUploader(src string, excludes []string, workers, chunk int) *uploader {
	u := &uploader{src: filepath.Clean(src), workers: workers, chunk: chunk, progress: progress.New(0)}
	if len(excludes) > 0 {
		u.ignore = ignore.CompileIgnoreLines(excludes...)
	}
	if u.workers < 1 {
		u.workers = 1
	}
	if u.chunk < 1 {
		u.chunk = 1 << 20
	}
	return u
}

func (u *uploader) Files() int64 {
	return u.files.Load()
}

func (u *uploader) Bytes() int64 {
	return u.progress.Written()
}

// report redraws a progress bar on w every interval until the returned
// function is called.
func (u *uploader) report(w io.Writer, interval time.Duration) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				fmt.Fprintf(w, "\r%s %d files\n", u.progress.Bar(25), u.Files())
				return
			case <-t.C:
				fmt.Fprintf(w, "\r%s %d files", u.progress.Bar(25), u.Files())
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// plan walks the local tree and returns the directories and files to
// upload as slash separated paths relative to the parent of the source.
func (u *uploader) plan() (dirs []string, files []string, err error) {
	st, err := os.Stat(u.src)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	base := filepath.Base(u.src)
	if !st.IsDir() {
		return nil, []string{base}, nil
	}

	dirs = append(dirs, base)
	err = godirwalk.Walk(u.src, &godirwalk.Options{
		FollowSymbolicLinks: false,
		Callback: func(p string, de *godirwalk.Dirent) error {
			if p == u.src {
				return nil
			}
			rel := filepath.ToSlash(strings.TrimPrefix(p, u.src+string(filepath.Separator)))
			if u.excluded(rel, de.IsDir()) {
				if de.IsDir() {
					return godirwalk.SkipThis
				}
				return nil
			}
			switch {
			case de.IsDir():
				dirs = append(dirs, path.Join(base, rel))
			case de.IsRegular():
				files = append(files, path.Join(base, rel))
			default:
				log.WithField("path", p).Debug("skipping special file")
			}
			return nil
		},
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "put: failed to walk local directory")
	}
	return dirs, files, nil
}

// excluded matches rel against the exclude patterns. Directories are also
// tried with a trailing slash so "build/" style patterns apply to them.
func (u *uploader) excluded(rel string, dir bool) bool {
	if u.ignore == nil {
		return false
	}
	return u.ignore.MatchesPath(rel) || (dir && u.ignore.MatchesPath(rel+"/"))
}

// local maps a planned path back onto the local filesystem.
func (u *uploader) local(rel string) string {
	return filepath.Join(filepath.Dir(u.src), filepath.FromSlash(rel))
}

func (u *uploader) Run(ctx context.Context, dst *handle.DirectoryHandle) error {
	dirs, files, err := u.plan()
	if err != nil {
		return err
	}
	var total int64
	for _, f := range files {
		if st, err := os.Stat(u.local(f)); err == nil {
			total += st.Size()
		}
	}
	u.progress.SetTotal(total)

	created := map[string]*handle.DirectoryHandle{".": dst}
	for _, d := range dirs {
		parent := created[path.Dir(d)]
		h, err := parent.GetDirectoryHandle(path.Base(d), true)
		if err != nil {
			return errors.WithMessagef(err, "put: failed to create %s", d)
		}
		created[d] = h
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)
	for _, f := range files {
		f := f
		dir := created[path.Dir(f)]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return u.copy(dir, path.Base(f), u.local(f))
		})
	}
	return g.Wait()
}

// copy uploads one local file through a writable stream, replacing
// whatever was there before.
func (u *uploader) copy(dir *handle.DirectoryHandle, name, local string) error {
	r, err := os.Open(local)
	if err != nil {
		return errors.WithStack(err)
	}
	defer r.Close()

	fh, err := dir.GetFileHandle(name, true)
	if err != nil {
		return err
	}
	s, err := fh.CreateWritable(false)
	if err != nil {
		return err
	}
	w, err := s.GetWriter()
	if err != nil {
		return err
	}
	n, err := io.CopyBuffer(w, u.progress.Reader(r), make([]byte, u.chunk))
	if err != nil {
		_, _ = w.Abort(err.Error())
		return errors.WithMessagef(err, "put: failed to upload %s", local)
	}
	if err := w.Close(); err != nil {
		return err
	}

	u.files.Add(1)
	log.WithFields(log.Fields{"subsystem": "put", "path": fh.Path(), "size": n}).Debug("uploaded file")
	return nil
}
