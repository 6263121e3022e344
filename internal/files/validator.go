package files

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/BioHazard786/roomdrop/internal/transfer"
)

const defaultMimeType = "application/octet-stream"

var ErrNoFiles = errors.New("no files specified")

// FileInfo holds information about a file to be sent
type FileInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	// Size is the file size in bytes
	Size int64

	// Type is the MIME type of the file (e.g., "application/pdf", "text/plain")
	Type string
}

// Limits are the size thresholds applied before sending. Zero disables a limit.
type Limits struct {
	Max  int64
	Warn int64
}

// ValidateFiles checks if all files exist, are readable and within limits.
// Files over the warning threshold are still returned, with a warning each.
func ValidateFiles(filePaths []string, limits Limits) ([]FileInfo, []string, error) {
	if len(filePaths) == 0 {
		return nil, nil, ErrNoFiles
	}

	var (
		infos    []FileInfo
		warnings []string
		problems []string
	)
	for _, path := range filePaths {
		info, err := validateSingleFile(path)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if limits.Max > 0 && info.Size > limits.Max {
			problems = append(problems, fmt.Sprintf("%s: %s exceeds the %s limit",
				path, humanize.IBytes(uint64(info.Size)), humanize.IBytes(uint64(limits.Max))))
			continue
		}
		if limits.Warn > 0 && info.Size > limits.Warn {
			warnings = append(warnings, fmt.Sprintf("%s is %s; large files are held in memory by the receiver",
				info.Name, humanize.IBytes(uint64(info.Size))))
		}
		infos = append(infos, info)
	}

	if len(problems) > 0 {
		return nil, nil, fmt.Errorf("file validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return infos, warnings, nil
}

func validateSingleFile(path string) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: failed to get absolute path: %w", path, err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, fmt.Errorf("%s: file does not exist", path)
		}
		return FileInfo{}, fmt.Errorf("%s: failed to stat file: %w", path, err)
	}
	if stat.IsDir() {
		return FileInfo{}, fmt.Errorf("%s: is a directory (zip it first)", path)
	}
	if !stat.Mode().IsRegular() {
		return FileInfo{}, fmt.Errorf("%s: not a regular file", path)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: cannot open file (check permissions): %w", path, err)
	}
	file.Close()

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Type: detectMimeType(absPath),
	}, nil
}

// detectMimeType prefers the extension and sniffs content when it is unknown.
func detectMimeType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	if m, err := mimetype.DetectFile(path); err == nil {
		return m.String()
	}
	return defaultMimeType
}

// GetTotalSize returns the total size of all files
func GetTotalSize(fileInfos []FileInfo) int64 {
	var total int64
	for _, file := range fileInfos {
		total += file.Size
	}
	return total
}

// Open returns a transfer source reading the file. The caller closes the file.
func Open(info FileInfo) (transfer.Source, *os.File, error) {
	f, err := os.Open(info.Path)
	if err != nil {
		return transfer.Source{}, nil, transfer.NewFileError("open", info.Name, err)
	}
	return transfer.Source{
		Name:     info.Name,
		MimeType: info.Type,
		Size:     info.Size,
		Reader:   f,
	}, f, nil
}
