// Package sftpfs implements vfs.Provider on top of an SFTP session.
//
// SFTP only reports three distinct failure codes (no such file, permission
// denied and a generic failure), so every mutating call stats the target
// first to return a precise error code instead of a generic one.
package sftpfs

import (
	"context"
	"io"
	"net"
	"os"
	"path"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/juju/ratelimit"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/pterodactyl/sharefs/vfs"
)

const (
	DefaultMaxReadSize  = 1 << 20
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 15 * time.Second
)

// Config describes how to reach a share over SFTP.
type Config struct {
	// Address is the host:port of the SSH server.
	Address  string
	Username string
	Password string
	// PrivateKey is the path to a PEM encoded private key.
	PrivateKey string
	// KnownHosts is the path to a known_hosts file used to verify the server.
	KnownHosts string
	// Insecure disables host key verification entirely.
	Insecure bool
	// Root is the directory on the server that is exposed as "/".
	Root string

	MaxReadSize    int
	BytesPerSecond int64
	PollInterval   time.Duration
	Timeout        time.Duration
}

// Provider is a vfs.Provider backed by a pkg/sftp client.
type Provider struct {
	client  *sftp.Client
	conn    io.Closer
	root    string
	maxRead int
	bucket  *ratelimit.Bucket
	poll    time.Duration
	logger  *log.Entry
}

var _ vfs.Provider = (*Provider)(nil)

type Option func(*Provider)

// WithRoot sets the server directory exposed as the root of the share.
func WithRoot(root string) Option {
	return func(p *Provider) {
		if root != "" {
			p.root = path.Clean("/" + root)
		}
	}
}

// WithMaxReadSize sets the largest single read.
func WithMaxReadSize(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.maxRead = n
		}
	}
}

// WithBandwidth caps reads and writes at the given number of bytes per
// second. Zero disables the limit.
func WithBandwidth(bps int64) Option {
	return func(p *Provider) {
		if bps > 0 {
			p.bucket = ratelimit.NewBucketWithRate(float64(bps), bps)
		}
	}
}

// WithPollInterval sets how often a watch rescans the tree.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.poll = d
		}
	}
}

// WithCloser registers the transport to close together with the client.
func WithCloser(c io.Closer) Option {
	return func(p *Provider) {
		p.conn = c
	}
}

// New wraps an existing client.
func New(client *sftp.Client, opts ...Option) *Provider {
	p := &Provider{
		client:  client,
		root:    "/",
		maxRead: DefaultMaxReadSize,
		poll:    DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = log.WithFields(log.Fields{"subsystem": "sftpfs", "root": p.root})
	return p
}

// Dial opens a new SSH connection and starts an SFTP session on it.
func Dial(ctx context.Context, cfg Config) (*Provider, error) {
	sc, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	sc.Timeout = timeout

	d := net.Dialer{Timeout: timeout}
	nc, err := d.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, errors.Wrap(err, "sftpfs: failed to dial server")
	}
	c, chans, reqs, err := ssh.NewClientConn(nc, cfg.Address, sc)
	if err != nil {
		_ = nc.Close()
		return nil, errors.Wrap(err, "sftpfs: ssh handshake failed")
	}
	sshc := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshc)
	if err != nil {
		_ = sshc.Close()
		return nil, errors.Wrap(err, "sftpfs: could not start sftp subsystem")
	}

	p := New(client,
		WithCloser(sshc),
		WithRoot(cfg.Root),
		WithMaxReadSize(cfg.MaxReadSize),
		WithBandwidth(cfg.BytesPerSecond),
		WithPollInterval(cfg.PollInterval),
	)
	p.logger.WithField("address", cfg.Address).Debug("connected to sftp server")
	return p, nil
}

// Dialer returns a vfs.Dialer that opens new connections with cfg.
func Dialer(cfg Config) vfs.Dialer {
	return func(ctx context.Context) (vfs.Provider, error) {
		return Dial(ctx, cfg)
	}
}

func clientConfig(cfg Config) (*ssh.ClientConfig, error) {
	sc := &ssh.ClientConfig{User: cfg.Username}
	if cfg.PrivateKey != "" {
		b, err := os.ReadFile(cfg.PrivateKey)
		if err != nil {
			return nil, errors.Wrap(err, "sftpfs: could not read private key file")
		}
		var signer ssh.Signer
		if cfg.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(b, []byte(cfg.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(b)
		}
		if err != nil {
			return nil, errors.Wrap(err, "sftpfs: could not parse private key")
		}
		sc.Auth = append(sc.Auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		sc.Auth = append(sc.Auth, ssh.Password(cfg.Password))
	}
	if len(sc.Auth) == 0 {
		return nil, vfs.NewError(vfs.ErrCodeInvalidArgument, "sftpfs: no password or private key configured")
	}

	switch {
	case cfg.Insecure:
		sc.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	case cfg.KnownHosts != "":
		cb, err := knownhosts.New(cfg.KnownHosts)
		if err != nil {
			return nil, errors.Wrap(err, "sftpfs: could not load known_hosts file")
		}
		sc.HostKeyCallback = cb
	default:
		return nil, vfs.NewError(vfs.ErrCodeInvalidArgument, "sftpfs: a known_hosts file is required unless host key checking is disabled")
	}
	return sc, nil
}

// abs resolves a share path onto the server.
func (p *Provider) abs(name string) string {
	return path.Join(p.root, vfs.StripRoot(name))
}

// convert maps a client error onto the vfs taxonomy and tags it with the
// operation and path.
func convert(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var se *sftp.StatusError
	if errors.As(err, &se) {
		switch se.FxCode() {
		case sftp.ErrSSHFxNoSuchFile:
			return vfs.WrapError(vfs.ErrCodeNotFound, err, op+" "+name)
		case sftp.ErrSSHFxPermissionDenied:
			return vfs.WrapError(vfs.ErrCodePermissionDenied, err, op+" "+name)
		}
	}
	return vfs.WrapError(vfs.CodeOf(err), err, op+" "+name)
}

func statOf(fi os.FileInfo) vfs.Stat {
	st := vfs.StatFromFileInfo(fi)
	if fs, ok := fi.Sys().(*sftp.FileStat); ok && fs.Atime != 0 {
		st.Atime = vfs.Time{Sec: int64(fs.Atime)}
	}
	return st
}

func (p *Provider) Stat(name string) (vfs.Stat, error) {
	fi, err := p.client.Stat(p.abs(name))
	if err != nil {
		return vfs.Stat{}, convert("stat", name, err)
	}
	st := statOf(fi)
	if vfs.IsDirPath(name) && name != vfs.Root && !st.IsDir() {
		return vfs.Stat{}, vfs.Errorf(vfs.ErrCodeNotADirectory, "%q is not a directory", name)
	}
	return st, nil
}

func (p *Provider) Opendir(name string) (vfs.Directory, error) {
	st, err := p.Stat(name)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, vfs.Errorf(vfs.ErrCodeNotADirectory, "%q is not a directory", name)
	}
	infos, err := p.client.ReadDir(p.abs(name))
	if err != nil {
		return nil, convert("opendir", name, err)
	}
	entries := make([]vfs.DirEntry, 0, len(infos))
	for _, fi := range infos {
		e := vfs.EntryFromFileInfo(fi)
		if fs, ok := fi.Sys().(*sftp.FileStat); ok && fs.Atime != 0 {
			e.Atime = vfs.Time{Sec: int64(fs.Atime)}
		}
		entries = append(entries, e)
	}
	return vfs.NewDirectory(entries), nil
}

// Mkdir creates a directory. The mode is left to the server's umask.
func (p *Provider) Mkdir(name string, _ os.FileMode) error {
	if err := p.parentExists(name); err != nil {
		return err
	}
	if _, err := p.client.Stat(p.abs(name)); err == nil {
		return vfs.Errorf(vfs.ErrCodeExists, "%q already exists", name)
	}
	return convert("mkdir", name, p.client.Mkdir(p.abs(name)))
}

func (p *Provider) Rmdir(name string) error {
	st, err := p.Stat(name)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return vfs.Errorf(vfs.ErrCodeNotADirectory, "%q is not a directory", name)
	}
	infos, err := p.client.ReadDir(p.abs(name))
	if err != nil {
		return convert("rmdir", name, err)
	}
	for _, fi := range infos {
		if fi.Name() != "." && fi.Name() != ".." {
			return vfs.Errorf(vfs.ErrCodeNotEmpty, "%q is not empty", name)
		}
	}
	return convert("rmdir", name, p.client.RemoveDirectory(p.abs(name)))
}

func (p *Provider) Create(name string, flag int, _ os.FileMode) (vfs.File, error) {
	if err := p.parentExists(name); err != nil {
		return nil, err
	}
	if st, err := p.client.Stat(p.abs(name)); err == nil {
		if st.IsDir() {
			return nil, vfs.Errorf(vfs.ErrCodeIsADirectory, "%q is a directory", name)
		}
		if flag&os.O_EXCL != 0 {
			return nil, vfs.Errorf(vfs.ErrCodeExists, "%q already exists", name)
		}
	}
	f, err := p.client.OpenFile(p.abs(name), flag|os.O_CREATE)
	if err != nil {
		return nil, convert("create", name, err)
	}
	return &file{f: f, p: p, name: name}, nil
}

func (p *Provider) Open(name string, flag int) (vfs.File, error) {
	st, err := p.Stat(name)
	if err != nil {
		if flag&os.O_CREATE != 0 && vfs.IsErrorCode(err, vfs.ErrCodeNotFound) {
			return p.Create(name, flag, 0o666)
		}
		return nil, err
	}
	if st.IsDir() {
		return nil, vfs.Errorf(vfs.ErrCodeIsADirectory, "%q is a directory", name)
	}
	f, err := p.client.OpenFile(p.abs(name), flag)
	if err != nil {
		return nil, convert("open", name, err)
	}
	return &file{f: f, p: p, name: name}, nil
}

func (p *Provider) Unlink(name string) error {
	st, err := p.Stat(name)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return vfs.Errorf(vfs.ErrCodeIsADirectory, "%q is a directory", name)
	}
	return convert("unlink", name, p.client.Remove(p.abs(name)))
}

func (p *Provider) Truncate(name string, size int64) error {
	if size < 0 {
		return vfs.NewError(vfs.ErrCodeInvalidArgument, "size must not be negative")
	}
	st, err := p.Stat(name)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return vfs.Errorf(vfs.ErrCodeIsADirectory, "%q is a directory", name)
	}
	return convert("truncate", name, p.client.Truncate(p.abs(name), size))
}

// Close ends the SFTP session and the underlying transport.
func (p *Provider) Close() error {
	err := p.client.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return errors.WithStackIf(err)
}

func (p *Provider) parentExists(name string) error {
	parent, base := vfs.ParentAndName(name)
	if base == "" {
		return vfs.NewError(vfs.ErrCodeInvalidArgument, "operation not permitted on the root directory")
	}
	st, err := p.client.Stat(p.abs(parent))
	if err != nil {
		if vfs.IsErrorCode(convert("stat", parent, err), vfs.ErrCodeNotFound) {
			return vfs.Errorf(vfs.ErrCodeNotFound, "parent directory of %q not found", name)
		}
		return convert("stat", parent, err)
	}
	if !st.IsDir() {
		return vfs.Errorf(vfs.ErrCodeNotADirectory, "%q is not a directory", parent)
	}
	return nil
}

type file struct {
	f    *sftp.File
	p    *Provider
	name string
}

func (f *file) Fstat() (vfs.Stat, error) {
	fi, err := f.f.Stat()
	if err != nil {
		return vfs.Stat{}, convert("fstat", f.name, err)
	}
	return statOf(fi), nil
}

func (f *file) Pread(count int, offset int64) ([]byte, error) {
	if count < 0 || offset < 0 {
		return nil, vfs.NewError(vfs.ErrCodeInvalidArgument, "count and offset must not be negative")
	}
	if count > f.p.maxRead {
		count = f.p.maxRead
	}
	buf := make([]byte, count)
	n, err := f.f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, convert("pread", f.name, err)
	}
	if f.p.bucket != nil && n > 0 {
		f.p.bucket.Wait(int64(n))
	}
	return buf[:n], nil
}

func (f *file) Pwrite(data []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, vfs.NewError(vfs.ErrCodeInvalidArgument, "offset must not be negative")
	}
	if f.p.bucket != nil && len(data) > 0 {
		f.p.bucket.Wait(int64(len(data)))
	}
	n, err := f.f.WriteAt(data, offset)
	if err != nil {
		return n, convert("pwrite", f.name, err)
	}
	return n, nil
}

func (f *file) MaxReadSize() (int, error) {
	return f.p.maxRead, nil
}

func (f *file) Close() error {
	return convert("close", f.name, f.f.Close())
}
