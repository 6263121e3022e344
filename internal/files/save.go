package files

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BioHazard786/roomdrop/internal/transfer"
)

// GetUniqueFilename returns a unique filename by appending (1), (2), etc. if file exists
func GetUniqueFilename(filename string) string {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return filename
	}

	ext := filepath.Ext(filename)
	nameWithoutExt := filename[:len(filename)-len(ext)]

	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s (%d)%s", nameWithoutExt, counter, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// SafeName strips directory components a peer may have put in a file name.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == "" {
		return "download"
	}
	return name
}

// SaveArtifact writes a received file into dir without overwriting anything
// and returns the path it was written to.
func SaveArtifact(dir string, a transfer.Artifact) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", transfer.NewError("create output dir", err)
	}

	path := GetUniqueFilename(filepath.Join(dir, SafeName(a.Name)))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", transfer.NewFileError("create", a.Name, err)
	}
	if _, err := f.Write(a.Data); err != nil {
		f.Close()
		return "", transfer.NewFileError("write", a.Name, err)
	}
	if err := f.Close(); err != nil {
		return "", transfer.NewFileError("write", a.Name, err)
	}
	return path, nil
}

// ZipFiles bundles paths into a new archive at target, storing each under its
// base name.
func ZipFiles(paths []string, target string) error {
	zipFile, err := os.Create(target)
	if err != nil {
		return err
	}
	defer zipFile.Close()

	archive := zip.NewWriter(zipFile)
	for _, path := range paths {
		if err := addToZip(archive, path); err != nil {
			archive.Close()
			return err
		}
	}
	return archive.Close()
}

func addToZip(archive *zip.Writer, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	writer, err := archive.CreateHeader(header)
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(writer, file)
	return err
}
