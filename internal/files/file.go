// Package files maps Hotline files onto a plain directory tree. The data
// fork is the file itself, the resource fork lives in a ".rsrc" directory
// next to it and type, creator and comment live in a ".info" sidecar.
// Uploads are written to a ".hpf" partial file and renamed when complete.
package files

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/phxd-project/phxd/internal/protocol"
	"github.com/phxd-project/phxd/internal/transfer"
)

const (
	// PartialExt marks an upload in progress.
	PartialExt = ".hpf"

	resourceDir = ".rsrc"
	infoDir     = ".info"
)

// Type codes for entries without stored metadata.
var (
	folderType    = protocol.CharConst("fldr")
	partialType   = protocol.CharConst("HTft")
	partialCreate = protocol.CharConst("HTLC")
)

// Meta is the sidecar metadata of a file.
type Meta struct {
	Type    string `json:"type,omitempty"`
	Creator string `json:"creator,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// File is one entry of the shared file tree.
type File struct {
	path string
}

// New wraps the data fork path of a file or folder.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the data fork path.
func (f *File) Path() string { return f.path }

// Name returns the base name.
func (f *File) Name() string { return filepath.Base(f.path) }

// Dir returns the containing directory.
func (f *File) Dir() string { return filepath.Dir(f.path) }

// ResourcePath returns where the resource fork is stored.
func (f *File) ResourcePath() string {
	return filepath.Join(f.Dir(), resourceDir, f.Name())
}

// InfoPath returns where the metadata sidecar is stored.
func (f *File) InfoPath() string {
	return filepath.Join(f.Dir(), infoDir, f.Name())
}

// PartialPath returns the in-progress upload path.
func (f *File) PartialPath() string {
	return f.path + PartialExt
}

func (f *File) partialResourcePath() string {
	return f.ResourcePath() + PartialExt
}

// Exists reports whether the file or folder exists.
func (f *File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// IsDir reports whether the entry is a folder.
func (f *File) IsDir() bool {
	st, err := os.Stat(f.path)
	return err == nil && st.IsDir()
}

// HasPartial reports whether an interrupted upload left a partial file.
func (f *File) HasPartial() bool {
	_, err := os.Stat(f.PartialPath())
	return err == nil
}

// DataSize returns the data fork length.
func (f *File) DataSize() uint64 {
	return fileSize(f.path)
}

// ResourceSize returns the resource fork length, zero when absent.
func (f *File) ResourceSize() uint64 {
	return fileSize(f.ResourcePath())
}

// Size returns the combined fork size, or the entry count of a folder.
func (f *File) Size() uint64 {
	if f.IsDir() {
		entries, err := ListDir(f.path, false)
		if err != nil {
			return 0
		}
		return uint64(len(entries))
	}
	return f.DataSize() + f.ResourceSize()
}

func fileSize(path string) uint64 {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return 0
	}
	return uint64(st.Size())
}

// Meta reads the sidecar. Missing sidecars yield an empty Meta.
func (f *File) Meta() Meta {
	var m Meta
	data, err := os.ReadFile(f.InfoPath())
	if err != nil {
		return m
	}
	json.Unmarshal(data, &m)
	return m
}

// SaveMeta writes the sidecar.
func (f *File) SaveMeta(m Meta) error {
	if m == (Meta{}) {
		if err := os.Remove(f.InfoPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.InfoPath()), 0755); err != nil {
		return fmt.Errorf("create info dir: %w", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(f.InfoPath(), data, 0644)
}

// Comment returns the stored comment.
func (f *File) Comment() string {
	return f.Meta().Comment
}

// SetComment stores a comment, keeping the other metadata.
func (f *File) SetComment(comment string) error {
	m := f.Meta()
	m.Comment = comment
	return f.SaveMeta(m)
}

// TypeCode returns the four character type, guessed from the extension
// when no metadata is stored.
func (f *File) TypeCode() uint32 {
	if f.IsDir() {
		return folderType
	}
	if strings.HasSuffix(f.path, PartialExt) {
		return partialType
	}
	if m := f.Meta(); len(m.Type) == 4 {
		return protocol.CharConst(m.Type)
	}
	return guessCodes(f.Name()).typ
}

// CreatorCode returns the four character creator.
func (f *File) CreatorCode() uint32 {
	if f.IsDir() {
		return 0
	}
	if strings.HasSuffix(f.path, PartialExt) {
		return partialCreate
	}
	if m := f.Meta(); len(m.Creator) == 4 {
		return protocol.CharConst(m.Creator)
	}
	return guessCodes(f.Name()).creator
}

// FileInfo returns the INFO fork contents for a download.
func (f *File) FileInfo() transfer.FileInfo {
	fi := transfer.FileInfo{
		Type:    f.TypeCode(),
		Creator: f.CreatorCode(),
		Name:    f.Name(),
		Comment: f.Comment(),
	}
	if st, err := os.Stat(f.path); err == nil {
		fi.Modified = st.ModTime()
		fi.Created = st.ModTime()
	}
	return fi
}

// OpenData opens the data fork for reading.
func (f *File) OpenData() (io.ReadSeekCloser, error) {
	return os.Open(f.path)
}

// OpenResource opens the resource fork for reading.
func (f *File) OpenResource() (io.ReadSeekCloser, error) {
	return os.Open(f.ResourcePath())
}

// Flatten encodes the file list entry: type, creator, size, reserved,
// name script and the length-prefixed name.
func (f *File) Flatten() []byte {
	name := []byte(f.Name())
	size := f.Size()
	if size > 0xFFFFFFFF {
		size = 0xFFFFFFFF
	}
	return protocol.NewBuilder().
		WriteUint32(f.TypeCode()).
		WriteUint32(f.CreatorCode()).
		WriteUint32(uint32(size)).
		WriteUint32(0).
		WriteUint16(0).
		WriteUint16(uint16(len(name))).
		WriteBytes(name).
		Build()
}

// ResumeData describes how much of an interrupted upload is on disk.
func (f *File) ResumeData() *transfer.ResumeData {
	r := transfer.NewResumeData()
	r.SetOffset(transfer.ForkDATA, uint32(fileSize(f.PartialPath())))
	if size := fileSize(f.partialResourcePath()); size > 0 {
		r.SetOffset(transfer.ForkMACR, uint32(size))
	}
	return r
}

// Rename moves the file and its sidecars.
func (f *File) Rename(newPath string) error {
	dst := New(newPath)
	if err := os.Rename(f.path, newPath); err != nil {
		return err
	}
	for _, pair := range [][2]string{
		{f.ResourcePath(), dst.ResourcePath()},
		{f.InfoPath(), dst.InfoPath()},
	} {
		if _, err := os.Stat(pair[0]); err != nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(pair[1]), 0755); err != nil {
			return err
		}
		if err := os.Rename(pair[0], pair[1]); err != nil {
			return err
		}
	}
	f.path = newPath
	return nil
}

// Delete removes the file and its sidecars, or a folder recursively.
func (f *File) Delete() error {
	if f.IsDir() {
		return os.RemoveAll(f.path)
	}
	if err := os.Remove(f.path); err != nil {
		return err
	}
	os.Remove(f.ResourcePath())
	os.Remove(f.InfoPath())
	return nil
}

// ListDir returns the visible entries of a folder sorted by name. The
// sidecar directories are always hidden.
func ListDir(path string, showDotfiles bool) ([]*File, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var out []*File
	for _, e := range entries {
		name := e.Name()
		if name == resourceDir || name == infoDir {
			continue
		}
		if !showDotfiles && strings.HasPrefix(name, ".") {
			continue
		}
		out = append(out, New(filepath.Join(path, name)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// FreeSpace returns the bytes available to unprivileged users on the
// volume holding path.
func FreeSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("disk usage for %s: %w", path, err)
	}
	return usage.Free, nil
}
