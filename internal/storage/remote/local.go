package remote

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

// LocalStore keeps the dataset on a filesystem with the same layout as the remote store.
// Tests run it on an in-memory filesystem.
type LocalStore struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

func NewLocalStore(fsys afero.Fs, root string, logger *slog.Logger) (*LocalStore, error) {
	root = filepath.Clean(root)
	if err := fsys.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root dir for local store: %w", err)
	}
	logger.Debug("Local store ready", slog.String("root", root))
	return &LocalStore{fs: fsys, root: root, logger: logger}, nil
}

// resolve maps a store path onto the filesystem, refusing anything that escapes the root
func (s *LocalStore) resolve(op, objectPath string) (string, error) {
	cleaned := path.Clean("/" + objectPath)
	if cleaned == "/" || slices.Contains(strings.Split(objectPath, "/"), "..") {
		return "", &StatusError{StatusCode: http.StatusBadRequest, Op: op, Path: objectPath, Err: ErrInvalidPath}
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func (s *LocalStore) List(ctx context.Context, prefix string, recursive bool) ([]Object, error) {
	dir := s.root
	if prefix != "" {
		resolved, err := s.resolve("list", prefix)
		if err != nil {
			return nil, err
		}
		dir = resolved
	}

	if _, err := s.fs.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return []Object{}, nil
		}
		return nil, handleFsError("list", prefix, err)
	}

	objects := make([]Object, 0)
	toObject := func(fullPath string, isDir bool) Object {
		rel, _ := filepath.Rel(s.root, fullPath)
		objectType := ObjectFile
		if isDir {
			objectType = ObjectDirectory
		}
		return Object{Path: filepath.ToSlash(rel), Type: objectType}
	}

	if !recursive {
		entries, err := afero.ReadDir(s.fs, dir)
		if err != nil {
			return nil, handleFsError("list", prefix, err)
		}
		for _, entry := range entries {
			objects = append(objects, toObject(filepath.Join(dir, entry.Name()), entry.IsDir()))
		}
		return objects, nil
	}

	err := afero.Walk(s.fs, dir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == dir {
			return nil
		}
		objects = append(objects, toObject(p, info.IsDir()))
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, handleFsError("list", prefix, err)
	}
	return objects, nil
}

// UploadBatch writes every file to a temporary name first and renames them into place
// only once all writes succeeded, so a failed batch leaves no partial objects behind.
func (s *LocalStore) UploadBatch(ctx context.Context, files []File) error {
	if len(files) == 0 {
		return &StatusError{StatusCode: http.StatusBadRequest, Op: "upload", Err: ErrEmptyBatch}
	}

	type staged struct{ tmp, final string }
	stagedFiles := make([]staged, 0, len(files))
	cleanup := func() {
		for _, f := range stagedFiles {
			s.fs.Remove(f.tmp)
		}
	}

	var total int
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		fullPath, err := s.resolve("upload", file.Path)
		if err != nil {
			cleanup()
			return err
		}
		if err := s.fs.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
			cleanup()
			return handleFsError("upload", file.Path, err)
		}
		tmp := fullPath + ".tmp"
		if err := afero.WriteFile(s.fs, tmp, file.Content, 0644); err != nil {
			cleanup()
			return handleFsError("upload", file.Path, err)
		}
		stagedFiles = append(stagedFiles, staged{tmp: tmp, final: fullPath})
		total += len(file.Content)
	}

	for _, f := range stagedFiles {
		if err := s.fs.Rename(f.tmp, f.final); err != nil {
			cleanup()
			return handleFsError("upload", f.final, err)
		}
	}

	s.logger.Debug("Stored batch", slog.Int("files", len(files)), slog.String("size", humanize.Bytes(uint64(total))))
	return nil
}

func (s *LocalStore) Download(ctx context.Context, objectPath string) ([]byte, error) {
	fullPath, err := s.resolve("download", objectPath)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, fullPath)
	if err != nil {
		return nil, handleFsError("download", objectPath, err)
	}
	return data, nil
}

func (s *LocalStore) Delete(ctx context.Context, objectPath string) error {
	fullPath, err := s.resolve("delete", objectPath)
	if err != nil {
		return err
	}
	if _, err := s.fs.Stat(fullPath); err != nil {
		return handleFsError("delete", objectPath, err)
	}
	if err := s.fs.Remove(fullPath); err != nil {
		return handleFsError("delete", objectPath, err)
	}

	// Clean up empty parent directories, stopping at the root
	dirPath := filepath.Dir(fullPath)
	for dirPath != s.root && strings.HasPrefix(dirPath, s.root) {
		empty, err := isDirEmpty(s.fs, dirPath)
		if err != nil {
			// The object is already gone, a leftover directory is harmless
			s.logger.Warn("Failed to check if dir is empty", slog.String("dir", dirPath), slog.String("error", err.Error()))
			return nil
		}
		if !empty {
			break
		}
		if err := s.fs.Remove(dirPath); err != nil {
			s.logger.Warn("Failed to remove empty dir", slog.String("dir", dirPath), slog.String("error", err.Error()))
			return nil
		}
		dirPath = filepath.Dir(dirPath)
	}
	return nil
}

// isDirEmpty checks if a directory is empty.
func isDirEmpty(fsys afero.Fs, name string) (bool, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return false, err
	}
	defer f.Close()

	// Read exactly one directory entry.
	// If we get an io.EOF error, the directory is empty.
	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}
