package files

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/phxd-project/phxd/internal/protocol"
	"github.com/phxd-project/phxd/internal/transfer"
)

var ErrExists = errors.New("file already exists")

// Upload receives the forks of one incoming file into partial files.
type Upload struct {
	file *File
	data *os.File
	rsrc *lazyFile
	info *transfer.FileInfo
}

// OpenUpload prepares to receive f. Existing partial data is appended to
// so an interrupted upload can resume.
func (f *File) OpenUpload() (*Upload, error) {
	if f.Exists() {
		return nil, ErrExists
	}
	data, err := os.OpenFile(f.PartialPath(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open partial upload: %w", err)
	}
	return &Upload{
		file: f,
		data: data,
		rsrc: &lazyFile{path: f.partialResourcePath()},
	}, nil
}

// DataWriter receives the DATA fork.
func (u *Upload) DataWriter() io.Writer { return u.data }

// ResourceWriter receives the MACR fork. The file is created on first write.
func (u *Upload) ResourceWriter() io.Writer { return u.rsrc }

// SetInfo records the INFO fork, applied on Commit.
func (u *Upload) SetInfo(info transfer.FileInfo) error {
	u.info = &info
	return nil
}

// Commit renames the partial forks to their final names.
func (u *Upload) Commit() error {
	f := u.file
	if err := os.Rename(f.PartialPath(), f.Path()); err != nil {
		return fmt.Errorf("commit upload: %w", err)
	}
	if _, err := os.Stat(f.partialResourcePath()); err == nil {
		if err := os.Rename(f.partialResourcePath(), f.ResourcePath()); err != nil {
			return fmt.Errorf("commit resource fork: %w", err)
		}
	}
	if u.info != nil {
		m := Meta{Comment: u.info.Comment}
		if u.info.Type != 0 {
			m.Type = protocol.CodeString(u.info.Type)
		}
		if u.info.Creator != 0 {
			m.Creator = protocol.CodeString(u.info.Creator)
		}
		if err := f.SaveMeta(m); err != nil {
			return fmt.Errorf("save metadata: %w", err)
		}
	}
	return nil
}

// Close releases the open partial files.
func (u *Upload) Close() error {
	err := u.data.Close()
	if rerr := u.rsrc.Close(); err == nil {
		err = rerr
	}
	return err
}

type lazyFile struct {
	path string
	f    *os.File
}

func (l *lazyFile) Write(b []byte) (int, error) {
	if l.f == nil {
		if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
			return 0, err
		}
		f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return 0, err
		}
		l.f = f
	}
	return l.f.Write(b)
}

func (l *lazyFile) Close() error {
	if l.f == nil {
		return nil
	}
	return l.f.Close()
}
