// SPDX-License-Identifier: MPL-2.0

// Package archive validates and extracts distributable extension archives.
//
// A distributable archive is a ZIP file whose entries all live under a single
// root folder, with the extension manifest (the configured entry-point file,
// extension.toml by default) at the top level of that folder. Validation is
// ordered and stops at the first failure so the reported issue is always the
// most fundamental one:
//
//  1. the archive path exists and is a regular file
//  2. the ZIP index is readable
//  3. the archive contains at least one entry
//  4. every entry decompresses cleanly (checksum verification)
//  5. all entries share a single root folder
//  6. the root folder contains the manifest at its top level
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/andiusndd/hotswap/internal/manifest"
)

var (
	// ErrInvalidArchive is the sentinel error wrapped by ValidationError.
	ErrInvalidArchive = errors.New("invalid extension archive")
)

type (
	// Info describes a validated archive: the single root folder all entries
	// live under, and the number of entries it carries.
	Info struct {
		// Path is the absolute path to the archive file.
		Path string
		// RootFolder is the name of the single top-level folder.
		RootFolder string
		// Entries is the total number of ZIP entries.
		Entries int
	}

	// ValidationError reports why an archive failed validation. It wraps
	// ErrInvalidArchive for errors.Is() compatibility.
	ValidationError struct {
		// Path is the archive path that failed validation.
		Path string
		// Reason describes the first check that failed.
		Reason string
		// Cause is the underlying error, if any.
		Cause error
	}
)

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid extension archive %s: %s: %v", e.Path, e.Reason, e.Cause)
	}
	return fmt.Sprintf("invalid extension archive %s: %s", e.Path, e.Reason)
}

// Unwrap returns ErrInvalidArchive for errors.Is() compatibility.
func (e *ValidationError) Unwrap() error { return ErrInvalidArchive }

func invalid(path, reason string, cause error) *ValidationError {
	return &ValidationError{Path: path, Reason: reason, Cause: cause}
}

// Validate runs the ordered validation checks against the archive at path.
// entryPoint is the manifest file name required at the top level of the root
// folder; empty means manifest.DefaultFileName. Validate returns archive
// metadata on success and a ValidationError describing the first failed
// check otherwise. It never modifies the filesystem.
func Validate(path, entryPoint string) (*Info, error) {
	if entryPoint == "" {
		entryPoint = manifest.DefaultFileName
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving archive path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, invalid(absPath, "archive file does not exist", err)
	}
	if info.IsDir() {
		return nil, invalid(absPath, "archive path is a directory, not a file", nil)
	}

	reader, err := zip.OpenReader(absPath)
	if err != nil {
		return nil, invalid(absPath, "not a readable ZIP archive", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	if len(reader.File) == 0 {
		return nil, invalid(absPath, "archive is empty", nil)
	}

	// Decompress every entry to catch truncated or corrupted payloads that a
	// readable index alone does not reveal.
	for _, file := range reader.File {
		if err := verifyEntry(file); err != nil {
			return nil, invalid(absPath, fmt.Sprintf("corrupted entry %s", file.Name), err)
		}
	}

	rootFolder, err := singleRootFolder(reader.File)
	if err != nil {
		return nil, invalid(absPath, err.Error(), nil)
	}

	manifestEntry := rootFolder + "/" + entryPoint
	if !hasEntry(reader.File, manifestEntry) {
		return nil, invalid(absPath, fmt.Sprintf("missing required %s at the top level of %s/", entryPoint, rootFolder), nil)
	}

	return &Info{
		Path:       absPath,
		RootFolder: rootFolder,
		Entries:    len(reader.File),
	}, nil
}

// verifyEntry reads an entry to completion so stored checksums are checked.
func verifyEntry(file *zip.File) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	if _, err := io.Copy(io.Discard, rc); err != nil {
		_ = rc.Close()
		return err
	}
	return rc.Close()
}

// singleRootFolder returns the shared top-level folder name, or an error when
// entries sit at the archive root or under more than one top-level folder.
func singleRootFolder(files []*zip.File) (string, error) {
	root := ""
	for _, file := range files {
		name := strings.TrimPrefix(file.Name, "/")
		top, _, found := strings.Cut(name, "/")
		if !found && !file.FileInfo().IsDir() {
			return "", fmt.Errorf("entry %s is not inside a root folder", file.Name)
		}
		if top == "" {
			return "", fmt.Errorf("entry %s has an empty root folder", file.Name)
		}
		if root == "" {
			root = top
			continue
		}
		if top != root {
			return "", fmt.Errorf("archive has multiple top-level folders (%s and %s)", root, top)
		}
	}
	return root, nil
}

func hasEntry(files []*zip.File, name string) bool {
	for _, file := range files {
		if file.Name == name {
			return true
		}
	}
	return false
}

// Extract unpacks a validated archive into destDir, recreating the root
// folder beneath it. destDir is created if missing; an existing directory
// with the root folder's name beneath destDir is an error, so staging areas
// must be fresh. Entry paths are checked against directory traversal.
func Extract(info *Info, destDir string) (string, error) {
	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return "", fmt.Errorf("resolving extraction directory: %w", err)
	}
	if err := os.MkdirAll(absDest, 0o755); err != nil {
		return "", fmt.Errorf("creating extraction directory: %w", err)
	}

	extractedRoot := filepath.Join(absDest, info.RootFolder)
	if _, err := os.Stat(extractedRoot); err == nil {
		return "", fmt.Errorf("extraction target %s already exists", extractedRoot)
	}

	reader, err := zip.OpenReader(info.Path)
	if err != nil {
		return "", fmt.Errorf("opening archive for extraction: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	for _, file := range reader.File {
		destPath := filepath.Join(absDest, filepath.FromSlash(file.Name))

		// Reject entries that would escape the extraction directory.
		relPath, relErr := filepath.Rel(absDest, destPath)
		if relErr != nil || strings.HasPrefix(relPath, "..") {
			return "", fmt.Errorf("archive entry %s escapes the extraction directory", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, file.Mode().Perm()); err != nil {
				return "", fmt.Errorf("creating directory %s: %w", file.Name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return "", fmt.Errorf("creating parent directory for %s: %w", file.Name, err)
		}
		if err := extractFile(file, destPath); err != nil {
			return "", fmt.Errorf("extracting %s: %w", file.Name, err)
		}
	}

	return extractedRoot, nil
}

func extractFile(file *zip.File, destPath string) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = rc.Close()
	}()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		_ = destFile.Close()
	}()

	_, err = io.Copy(destFile, rc)
	return err
}
