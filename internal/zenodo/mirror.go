package zenodo

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
)

// Mirror serves dataset files from somewhere other than Zenodo, laid out
// as <dir>/<key> like the local data directory.
type Mirror interface {
	Fetch(ctx context.Context, remote, dst string) (int64, error)
}

// FTPMirror reads files from an FTP server.
type FTPMirror struct {
	addr     string
	user     string
	password string
	root     string
}

// NewFTPMirror parses ftp://[user[:password]@]host[:port]/root. Without
// credentials the login is anonymous.
func NewFTPMirror(raw string) (*FTPMirror, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse mirror url: %w", err)
	}
	if u.Scheme != "ftp" {
		return nil, fmt.Errorf("mirror url %q: scheme must be ftp", raw)
	}
	addr := u.Host
	if u.Port() == "" {
		addr += ":21"
	}
	m := &FTPMirror{addr: addr, user: "anonymous", password: "anonymous", root: u.Path}
	if u.User != nil {
		m.user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			m.password = p
		}
	}
	return m, nil
}

func (m *FTPMirror) Fetch(ctx context.Context, remote, dst string) (int64, error) {
	conn, err := ftp.Dial(m.addr, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		return 0, fmt.Errorf("ftp dial: %w", err)
	}
	defer conn.Quit()

	if err := conn.Login(m.user, m.password); err != nil {
		return 0, fmt.Errorf("ftp login: %w", err)
	}

	resp, err := conn.Retr(path.Join(m.root, remote))
	if err != nil {
		return 0, fmt.Errorf("ftp retr: %w", err)
	}
	defer resp.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}
	n, err := io.Copy(f, resp)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("read %s: %w", remote, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return 0, fmt.Errorf("rename %s: %w", tmp, err)
	}
	return n, nil
}
