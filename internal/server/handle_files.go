package server

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/phxd-project/phxd/internal/files"
	"github.com/phxd-project/phxd/internal/protocol"
	"github.com/phxd-project/phxd/internal/transfer"
)

var errInvalidName = Fail("Invalid file or directory.")

// requestPath resolves the directory object of kind dirKind plus an
// optional file name below the shared root. Names that are not a single
// path component fail with errInvalidName.
func (s *Server) requestPath(p *protocol.Packet, dirKind uint16, name string) (string, error) {
	dir := files.ParseDirPath(p.GetBinary(dirKind, nil))
	path, ok := files.BuildPath(s.cfg.GetFiles().Root, dir, name)
	if !ok {
		return "", errInvalidName
	}
	return path, nil
}

func isDropBox(path string) bool {
	return strings.Contains(strings.ToUpper(path), "DROP BOX")
}

func isUploadDir(path string) bool {
	upper := strings.ToUpper(path)
	return strings.Contains(upper, "UPLOAD") || strings.Contains(upper, "DROP BOX")
}

func (s *Server) handleFileList(u *User, p *protocol.Packet) error {
	path, err := s.requestPath(p, protocol.DataDir, "")
	if err != nil {
		return err
	}
	dir := files.New(path)
	if !dir.Exists() {
		return Fail("The specified directory does not exist.")
	}
	if !dir.IsDir() {
		return Fail("The specified path is not a directory.")
	}
	if isDropBox(path) && !u.HasPerm(PermViewDropBoxes) {
		return Fail("You are not allowed to view drop boxes.")
	}

	entries, err := files.ListDir(path, s.cfg.GetFiles().ShowDotfiles)
	if err != nil {
		return fmt.Errorf("list %s: %w", path, err)
	}
	reply := p.Response()
	for _, f := range entries {
		reply.Add(protocol.DataFile, f.Flatten())
	}
	s.sendTo(reply, u)
	return nil
}

func (s *Server) handleFileGet(u *User, p *protocol.Packet) error {
	name := p.GetString(protocol.DataFilename, "")
	path, err := s.requestPath(p, protocol.DataDir, name)
	if err != nil {
		return err
	}
	f := files.New(path)
	if !f.Exists() || f.IsDir() {
		return Fail("Specified file does not exist.")
	}
	resume := transfer.ParseResumeData(p.GetBinary(protocol.DataResume, nil))

	xfer, err := transfer.NewOutgoing(f.Name(), path, u.owner(), f, resume)
	if err != nil {
		return fmt.Errorf("prepare download of %s: %w", path, err)
	}
	s.xfers.Register(xfer)

	reply := p.Response()
	reply.AddNumber(protocol.DataXferSize, xfer.Total())
	reply.AddNumber(protocol.DataFileSize, xfer.DataLength())
	reply.AddNumber(protocol.DataXferID, uint64(xfer.ID()))
	s.sendTo(reply, u)
	s.logger.Debug().Str("user", u.String()).Str("xfer", xfer.String()).Msg("download queued")
	return nil
}

func (s *Server) handleFilePut(u *User, p *protocol.Packet) error {
	name := p.GetString(protocol.DataFilename, "")
	size := p.GetNumber(protocol.DataXferSize, 0)
	dirPath, err := s.requestPath(p, protocol.DataDir, "")
	if err != nil {
		return err
	}
	path, err := s.requestPath(p, protocol.DataDir, name)
	if err != nil {
		return err
	}

	f := files.New(path)
	if name == "" || f.Exists() {
		return Fail("File already exists.")
	}
	if !u.HasPerm(PermUploadAnywhere) && !isUploadDir(path) {
		return Fail("You must upload to an upload directory or drop box.")
	}
	if !files.New(dirPath).IsDir() {
		return Fail("The specified directory does not exist.")
	}
	for _, t := range s.xfers.List() {
		if t.IsIncoming() && t.Path() == path {
			return Fail("File already exists.")
		}
	}
	free, err := files.FreeSpace(dirPath)
	if err != nil {
		return err
	}
	if size >= free {
		return Fail("Insufficient disk space.")
	}

	resuming := f.HasPartial()
	upload, err := f.OpenUpload()
	if errors.Is(err, files.ErrExists) {
		return Fail("File already exists.")
	}
	if err != nil {
		return err
	}
	xfer := transfer.NewIncoming(f.Name(), path, u.owner(), upload)
	xfer.SetTotal(size)
	s.xfers.Register(xfer)

	reply := p.Response()
	reply.AddNumber(protocol.DataXferID, uint64(xfer.ID()))
	if resuming {
		data, err := f.ResumeData().MarshalBinary()
		if err != nil {
			s.xfers.Cancel(xfer)
			return err
		}
		reply.Add(protocol.DataResume, data)
	}
	s.sendTo(reply, u)
	s.logger.Debug().Str("user", u.String()).Str("xfer", xfer.String()).Bool("resume", resuming).Msg("upload queued")
	return nil
}

func (s *Server) handleFileDelete(u *User, p *protocol.Packet) error {
	path, err := s.requestPath(p, protocol.DataDir, p.GetString(protocol.DataFilename, ""))
	if err != nil {
		return err
	}
	f := files.New(path)
	if path == s.cfg.GetFiles().Root || !f.Exists() {
		return Fail("Specified file or directory does not exist.")
	}
	if f.IsDir() && !u.HasPerm(PermDeleteFolders) {
		return Fail("You are not allowed to delete folders.")
	}
	if !f.IsDir() && !u.HasPerm(PermDeleteFiles) {
		return Fail("You are not allowed to delete files.")
	}
	if err := f.Delete(); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	s.sendTo(p.Response(), u)
	s.logger.Info().Str("user", u.String()).Str("path", path).Msg("[files] deleted")
	return nil
}

func (s *Server) handleFileMkdir(u *User, p *protocol.Packet) error {
	name := p.GetString(protocol.DataFilename, "")
	path, err := s.requestPath(p, protocol.DataDir, name)
	if err != nil {
		return err
	}
	if name == "" || files.New(path).Exists() {
		return Fail("Specified directory already exists.")
	}
	if err := os.Mkdir(path, s.cfg.DirMode()); err != nil {
		return fmt.Errorf("create folder %s: %w", path, err)
	}
	s.sendTo(p.Response(), u)
	return nil
}

func (s *Server) handleFileMove(u *User, p *protocol.Packet) error {
	if !u.HasPerm(PermMoveFiles) {
		return Fail("You are not allowed to move files.")
	}
	name := p.GetString(protocol.DataFilename, "")
	oldPath, err := s.requestPath(p, protocol.DataDir, name)
	if err != nil {
		return err
	}
	newPath, err := s.requestPath(p, protocol.DataNewDir, name)
	if err != nil {
		return err
	}

	f := files.New(oldPath)
	if name == "" || !f.Exists() {
		return Fail("Invalid file or directory.")
	}
	if f.IsDir() && !u.HasPerm(PermMoveFolders) {
		return Fail("You are not allowed to move folders.")
	}
	if files.New(newPath).Exists() {
		return Fail("The specified file already exists in the new location.")
	}
	if err := f.Rename(newPath); err != nil {
		return fmt.Errorf("move %s: %w", oldPath, err)
	}
	s.sendTo(p.Response(), u)
	return nil
}

func (s *Server) handleFileGetInfo(u *User, p *protocol.Packet) error {
	name := p.GetString(protocol.DataFilename, "")
	path, err := s.requestPath(p, protocol.DataDir, name)
	if err != nil {
		return err
	}
	f := files.New(path)
	if !f.Exists() {
		return Fail("No such file or directory.")
	}
	info := f.FileInfo()

	reply := p.Response()
	reply.AddString(protocol.DataFilename, name)
	reply.AddNumber(protocol.DataFileSize, f.Size())
	reply.AddNumberBits(protocol.DataFileType, uint64(f.TypeCode()), 32)
	reply.AddNumberBits(protocol.DataFileCreator, uint64(f.CreatorCode()), 32)
	reply.Add(protocol.DataDateCreated, protocol.EncodeDate(info.Created))
	reply.Add(protocol.DataDateModified, protocol.EncodeDate(info.Modified))
	reply.AddString(protocol.DataComment, info.Comment)
	s.sendTo(reply, u)
	return nil
}

func (s *Server) handleFileSetInfo(u *User, p *protocol.Packet) error {
	oldName := p.GetString(protocol.DataFilename, "")
	newName := p.GetString(protocol.DataNewFile, oldName)
	oldPath, err := s.requestPath(p, protocol.DataDir, oldName)
	if err != nil {
		return err
	}
	newPath, err := s.requestPath(p, protocol.DataDir, newName)
	if err != nil {
		return err
	}

	f := files.New(oldPath)
	if oldName == "" || !f.Exists() {
		return Fail("Invalid file or directory.")
	}
	dir := f.IsDir()

	if oldPath != newPath {
		if (dir && !u.HasPerm(PermRenameFolders)) || (!dir && !u.HasPerm(PermRenameFiles)) {
			return Fail("You cannot rename files.")
		}
		if files.New(newPath).Exists() {
			return Fail("The specified file already exists.")
		}
	}
	if p.Has(protocol.DataComment) {
		if (dir && !u.HasPerm(PermCommentFolders)) || (!dir && !u.HasPerm(PermCommentFiles)) {
			return Fail("You are not allowed to comment files.")
		}
	}

	if oldPath != newPath {
		if err := f.Rename(newPath); err != nil {
			return fmt.Errorf("rename %s: %w", oldPath, err)
		}
	}
	if p.Has(protocol.DataComment) {
		if err := f.SetComment(p.GetString(protocol.DataComment, "")); err != nil {
			return fmt.Errorf("set comment on %s: %w", newPath, err)
		}
	}
	s.sendTo(p.Response(), u)
	return nil
}
