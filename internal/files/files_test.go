package files

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BioHazard786/roomdrop/internal/transfer"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestValidateFiles(t *testing.T) {
	dir := t.TempDir()
	txt := writeFile(t, dir, "notes.txt", []byte("hello"))
	empty := writeFile(t, dir, "empty.bin", nil)
	png := writeFile(t, dir, "image", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))

	infos, warnings, err := ValidateFiles([]string{txt, empty, png}, Limits{})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, infos, 3)

	assert.Equal(t, "notes.txt", infos[0].Name)
	assert.Equal(t, int64(5), infos[0].Size)
	assert.Contains(t, infos[0].Type, "text/plain")

	assert.Zero(t, infos[1].Size, "empty files are sendable")
	assert.Equal(t, "image/png", infos[2].Type, "sniffed without extension")

	assert.Equal(t, int64(5+0+16), GetTotalSize(infos))
}

func TestValidateFilesErrors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := ValidateFiles(nil, Limits{})
	assert.ErrorIs(t, err, ErrNoFiles)

	_, _, err = ValidateFiles([]string{filepath.Join(dir, "missing")}, Limits{})
	assert.ErrorContains(t, err, "does not exist")

	_, _, err = ValidateFiles([]string{dir}, Limits{})
	assert.ErrorContains(t, err, "is a directory")
}

func TestValidateFilesLimits(t *testing.T) {
	dir := t.TempDir()
	big := writeFile(t, dir, "big.bin", make([]byte, 2048))

	_, _, err := ValidateFiles([]string{big}, Limits{Max: 1024})
	assert.ErrorContains(t, err, "exceeds")

	infos, warnings, err := ValidateFiles([]string{big}, Limits{Max: 4096, Warn: 1024})
	require.NoError(t, err)
	assert.Len(t, infos, 1)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "big.bin")
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.txt", []byte("abc"))
	infos, _, err := ValidateFiles([]string{path}, Limits{})
	require.NoError(t, err)

	src, f, err := Open(infos[0])
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, "a.txt", src.Name)
	assert.Equal(t, int64(3), src.Size)
	data, err := io.ReadAll(src.Reader)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, _, err = Open(FileInfo{Name: "gone", Path: filepath.Join(dir, "gone")})
	var terr *transfer.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "gone", terr.File)
}

func TestGetUniqueFilename(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "report.pdf")
	assert.Equal(t, name, GetUniqueFilename(name))

	writeFile(t, dir, "report.pdf", nil)
	assert.Equal(t, filepath.Join(dir, "report (1).pdf"), GetUniqueFilename(name))

	writeFile(t, dir, "report (1).pdf", nil)
	assert.Equal(t, filepath.Join(dir, "report (2).pdf"), GetUniqueFilename(name))
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"file.txt":          "file.txt",
		"../../etc/passwd":  "passwd",
		"..\\..\\win.ini":   "win.ini",
		"/abs/path/doc.pdf": "doc.pdf",
		"":                  "download",
		"..":                "download",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeName(in), "input %q", in)
	}
}

func TestSaveArtifactAndZip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	first, err := SaveArtifact(dir, transfer.Artifact{Name: "a.txt", Data: []byte("one")})
	require.NoError(t, err)
	second, err := SaveArtifact(dir, transfer.Artifact{Name: "a.txt", Data: []byte("two")})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "a.txt"), first)
	assert.Equal(t, filepath.Join(dir, "a (1).txt"), second)

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	target := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, ZipFiles([]string{first, second}, target))

	r, err := zip.OpenReader(target)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"a.txt", "a (1).txt"}, names)
}
