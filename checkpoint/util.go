package checkpoint

import (
	"bufio"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

const dirPerm = 0o700

// exportFile is written to a temporary file in the destination directory and
// renamed on save, readers never observe a partially written export.
type exportFile struct {
	file    afero.File
	fwriter *bufio.Writer
	path    string
}

func newExportFile(fs afero.Fs, path string) (*exportFile, error) {
	if err := fs.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("create dst dir %v: %w", filepath.Dir(path), err)
	}
	tmpf, err := afero.TempFile(fs, filepath.Dir(path), filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("%w: create tmp file", err)
	}
	return &exportFile{
		file:    tmpf,
		fwriter: bufio.NewWriter(tmpf),
		path:    path,
	}, nil
}

func (ef *exportFile) save(fs afero.Fs) error {
	defer ef.file.Close()
	if err := ef.fwriter.Flush(); err != nil {
		return fmt.Errorf("flush tmp file: %w", err)
	}
	if err := ef.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync tmp file", err)
	}
	if err := ef.file.Close(); err != nil {
		return fmt.Errorf("%w: close tmp file", err)
	}
	if err := fs.Rename(ef.file.Name(), ef.path); err != nil {
		return fmt.Errorf("%w: rename tmp file %v to %v", err, ef.file.Name(), ef.path)
	}
	return nil
}

func writeExport(fs afero.Fs, path, content string) error {
	ef, err := newExportFile(fs, path)
	if err != nil {
		return err
	}
	if _, err := ef.fwriter.WriteString(content); err != nil {
		ef.file.Close()
		return fmt.Errorf("write %v: %w", path, err)
	}
	return ef.save(fs)
}
