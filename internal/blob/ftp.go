package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP store.
type FTPOptions struct {
	Timeout time.Duration
}

// FTP stores blobs below a directory on an FTP server. Every operation uses
// its own control connection.
type FTP struct {
	host     string
	root     string
	user     string
	password string
	opts     FTPOptions
	log      *zap.Logger
}

// NewFTP returns a store for a URL of the form
// ftp://[user[:password]@]host[:port]/root. Without credentials the store
// logs in anonymously.
func NewFTP(rawURL string, opts FTPOptions, log *zap.Logger) (*FTP, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	host, root, err := parseFTPURL(rawURL)
	if err != nil {
		return nil, err
	}
	s := &FTP{host: host, root: root, user: "anonymous", password: "anonymous@", opts: opts, log: log}
	if u, _ := url.Parse(rawURL); u != nil && u.User != nil {
		s.user = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			s.password = pw
		}
	}
	return s, nil
}

// parseFTPURL extracts host (with port) and the root directory from an FTP
// URL. A URL without a path is rooted at "/".
func parseFTPURL(rawURL string) (host string, root string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "blob: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("blob: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", eris.New("blob: empty host in ftp url")
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	root = path.Clean("/" + u.Path)
	return host, root, nil
}

func (s *FTP) dial(ctx context.Context) (*ftp.ServerConn, error) {
	s.log.Debug("ftp: connecting", zap.String("host", s.host))
	conn, err := ftp.Dial(s.host, ftp.DialWithTimeout(s.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "blob: ftp dial")
	}
	if err := conn.Login(s.user, s.password); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "blob: ftp login")
	}
	return conn, nil
}

func (s *FTP) remotePath(key string) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return path.Join(s.root, k), nil
}

// isFileUnavailable reports a 550 reply, which servers send for missing files.
func isFileUnavailable(err error) bool {
	var tp *textproto.Error
	return errors.As(err, &tp) && tp.Code == ftp.StatusFileUnavailable
}

func (s *FTP) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.remotePath(key)
	if err != nil {
		return false, err
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Quit() //nolint:errcheck

	if _, err := conn.FileSize(p); err != nil {
		if isFileUnavailable(err) {
			return false, nil
		}
		return false, eris.Wrapf(err, "blob: ftp size %s", key)
	}
	return true, nil
}

func (s *FTP) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := s.remotePath(key)
	if err != nil {
		return nil, err
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck

	resp, err := conn.Retr(p)
	if err != nil {
		if isFileUnavailable(err) {
			return nil, eris.Wrapf(ErrNotFound, "blob: get %s", key)
		}
		return nil, eris.Wrapf(err, "blob: ftp retrieve %s", key)
	}
	data, readErr := io.ReadAll(resp)
	if closeErr := resp.Close(); closeErr != nil && readErr == nil {
		readErr = closeErr
	}
	if readErr != nil {
		return nil, eris.Wrapf(readErr, "blob: ftp read %s", key)
	}
	return data, nil
}

func (s *FTP) Put(ctx context.Context, key string, data []byte) error {
	p, err := s.remotePath(key)
	if err != nil {
		return err
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit() //nolint:errcheck

	// Create missing parents; existing directories answer 550 and are ignored.
	dir := path.Dir(p)
	cur := ""
	for _, part := range strings.Split(strings.TrimPrefix(dir, "/"), "/") {
		if part == "" {
			continue
		}
		cur += "/" + part
		_ = conn.MakeDir(cur)
	}

	if err := conn.Stor(p, bytes.NewReader(data)); err != nil {
		return eris.Wrapf(err, "blob: ftp store %s", key)
	}
	s.log.Debug("ftp: stored", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

func (s *FTP) List(ctx context.Context, prefix string) ([]string, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit() //nolint:errcheck

	var keys []string
	w := conn.Walk(s.root)
	for w.Next() {
		e := w.Stat()
		if e == nil || e.Type != ftp.EntryTypeFile {
			continue
		}
		key := strings.TrimPrefix(strings.TrimPrefix(w.Path(), s.root), "/")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	if err := w.Err(); err != nil && !isFileUnavailable(err) {
		return nil, eris.Wrapf(err, "blob: ftp walk %s", s.root)
	}
	return sortedUnique(keys), nil
}
