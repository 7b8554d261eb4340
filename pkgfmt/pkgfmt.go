// Package pkgfmt implements the installer package codec: a sequence of
// (relative path, item type, [length, bytes]) records terminated by a
// null-path sentinel, wrapped in the compression envelope.
package pkgfmt

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joncooperworks/installerpkg/envelope"
	"github.com/joncooperworks/installerpkg/wire"
)

// ItemType identifies what kind of filesystem entry a record describes.
type ItemType byte

const (
	// ItemFile marks a record carrying a length-prefixed payload.
	ItemFile ItemType = 0
	// ItemFolder marks a record with no payload, just a path to create.
	ItemFolder ItemType = 1
)

// MaxPathLen bounds a record's path length, per spec (paths are UTF-8,
// at most 32767 bytes).
const MaxPathLen = 32767

// ErrPathTraversal is returned by Extract when a record's path would resolve
// outside the target directory.
var ErrPathTraversal = errors.New("pkgfmt: path traversal rejected")

// DirMode and FileMode are the POSIX permissions used when materializing
// folders and files during Extract.
var (
	DirMode  os.FileMode = 0o755
	FileMode os.FileMode = 0o644
)

// Entry describes one filesystem object to archive in Create.
type Entry struct {
	// AbsPath is the entry's absolute path. It must be prefixed by basePath.
	AbsPath string
	// IsDir marks a directory entry (emitted as an ItemFolder record with no
	// payload) versus a regular file (emitted as an ItemFile record).
	IsDir bool
}

// Create packs the given entries, relative to basePath (which must end in
// "/"), into a compressed archive written to outputPath. It returns the
// uncompressed byte length of the record stream, which the CLI reports on
// its final stdout line.
//
// Create writes records to a temporary file first, then compresses that
// temp file into outputPath: a two-pass approach so the envelope header's
// uncompressed length can be written before the body.
func Create(basePath string, entries []Entry, outputPath string) (uint64, error) {
	if !strings.HasSuffix(basePath, "/") {
		return 0, fmt.Errorf("pkgfmt: basePath %q must end with /", basePath)
	}

	tmp, err := os.CreateTemp("", "pkgfmt-create-*")
	if err != nil {
		return 0, fmt.Errorf("pkgfmt: create temp stream: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeRecords(tmp, basePath, entries); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("pkgfmt: close temp stream: %w", err)
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("pkgfmt: stat temp stream: %w", err)
	}
	uncompressedLen := uint64(info.Size())

	tmpIn, err := os.Open(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("pkgfmt: reopen temp stream: %w", err)
	}
	defer tmpIn.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("pkgfmt: create output: %w", err)
	}
	defer out.Close()

	ew, err := envelope.NewWriter(out, uncompressedLen)
	if err != nil {
		return 0, fmt.Errorf("pkgfmt: open envelope writer: %w", err)
	}
	if _, err := io.Copy(ew, tmpIn); err != nil {
		return 0, fmt.Errorf("pkgfmt: compress body: %w", err)
	}
	if err := ew.Close(); err != nil {
		return 0, fmt.Errorf("pkgfmt: close envelope writer: %w", err)
	}
	return uncompressedLen, nil
}

func writeRecords(w io.Writer, basePath string, entries []Entry) error {
	rw := wire.NewWriter(w)
	for _, e := range entries {
		if !strings.HasPrefix(e.AbsPath, basePath) {
			return fmt.Errorf("pkgfmt: entry %q is not under base path %q", e.AbsPath, basePath)
		}
		rel := strings.TrimPrefix(e.AbsPath, basePath)
		rel = filepath.ToSlash(rel)
		if err := rw.BoundedString(&rel); err != nil {
			return fmt.Errorf("pkgfmt: write path: %w", err)
		}
		if e.IsDir {
			if err := rw.Byte(byte(ItemFolder)); err != nil {
				return fmt.Errorf("pkgfmt: write item type: %w", err)
			}
			continue
		}
		if err := rw.Byte(byte(ItemFile)); err != nil {
			return fmt.Errorf("pkgfmt: write item type: %w", err)
		}
		data, err := os.Open(e.AbsPath)
		if err != nil {
			return fmt.Errorf("pkgfmt: open %q: %w", e.AbsPath, err)
		}
		info, err := data.Stat()
		if err != nil {
			data.Close()
			return fmt.Errorf("pkgfmt: stat %q: %w", e.AbsPath, err)
		}
		if err := rw.Int64(info.Size()); err != nil {
			data.Close()
			return fmt.Errorf("pkgfmt: write length: %w", err)
		}
		if _, err := io.Copy(w, data); err != nil {
			data.Close()
			return fmt.Errorf("pkgfmt: copy %q: %w", e.AbsPath, err)
		}
		data.Close()
	}
	// null-path sentinel
	if err := rw.BoundedString(nil); err != nil {
		return fmt.Errorf("pkgfmt: write sentinel: %w", err)
	}
	return nil
}

// Extract reads a compressed archive from src and writes its contents under
// targetDir, which must already exist. Every resolved path is checked
// against targetDir to reject path traversal before any bytes are written.
func Extract(src io.Reader, targetDir string) error {
	targetRoot, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("pkgfmt: resolve target dir: %w", err)
	}

	er, err := envelope.NewReader(src)
	if err != nil {
		return fmt.Errorf("pkgfmt: open envelope: %w", err)
	}
	rr := wire.NewReader(er)

	for {
		relPtr, err := rr.BoundedString(MaxPathLen)
		if err != nil {
			return fmt.Errorf("pkgfmt: read path: %w", err)
		}
		if relPtr == nil {
			return nil // null-path sentinel: stream complete
		}
		rel := *relPtr

		itemType, err := rr.Enum(byte(ItemFile), byte(ItemFolder))
		if err != nil {
			return fmt.Errorf("pkgfmt: read item type: %w", err)
		}

		target, err := resolveSafe(targetRoot, rel)
		if err != nil {
			return err
		}

		switch ItemType(itemType) {
		case ItemFolder:
			if err := os.MkdirAll(target, DirMode); err != nil {
				return fmt.Errorf("pkgfmt: mkdir %q: %w", target, err)
			}
		case ItemFile:
			length, err := rr.Int64()
			if err != nil {
				return fmt.Errorf("pkgfmt: read length: %w", err)
			}
			if length < 0 {
				return fmt.Errorf("%w: negative file length %d", wire.ErrInvalidFormat, length)
			}
			if err := os.MkdirAll(filepath.Dir(target), DirMode); err != nil {
				return fmt.Errorf("pkgfmt: mkdir parent of %q: %w", target, err)
			}
			if err := extractFile(rr, target, length); err != nil {
				return err
			}
		}
	}
}

func extractFile(rr *wire.Reader, target string, length int64) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FileMode)
	if err != nil {
		return fmt.Errorf("pkgfmt: create %q: %w", target, err)
	}
	defer f.Close()

	const chunkSize = 64 * 1024
	remaining := length
	for remaining > 0 {
		n := int64(chunkSize)
		if remaining < n {
			n = remaining
		}
		chunk, err := rr.Bytes(n)
		if err != nil {
			return fmt.Errorf("pkgfmt: read payload for %q: %w", target, err)
		}
		if _, err := f.Write(chunk); err != nil {
			return fmt.Errorf("pkgfmt: write %q: %w", target, err)
		}
		remaining -= n
	}
	return nil
}

// resolveSafe joins rel onto root and rejects any result that would escape
// root: absolute paths, drive anchors, and ".." segments are all refused up
// front, and the final Clean()-ed path is re-checked for containment.
func resolveSafe(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathTraversal)
	}
	if strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathTraversal, rel)
	}
	if filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: drive-anchored path %q", ErrPathTraversal, rel)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q contains ..", ErrPathTraversal, rel)
		}
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	target = filepath.Clean(target)
	rootWithSep := root
	if !strings.HasSuffix(rootWithSep, string(filepath.Separator)) {
		rootWithSep += string(filepath.Separator)
	}
	if target != root && !strings.HasPrefix(target, rootWithSep) {
		return "", fmt.Errorf("%w: %q resolves outside %q", ErrPathTraversal, rel, root)
	}
	return target, nil
}

// Stat peeks an archive's envelope header and record stream without
// materializing any file, reporting the uncompressed byte length (for a
// progress meter) and the number of records the archive holds. Record
// payloads are skipped over rather than read into memory.
func Stat(src io.Reader) (uncompressedLen uint64, hasLen bool, recordCount uint64, err error) {
	er, err := envelope.NewReader(src)
	if err != nil {
		return 0, false, 0, fmt.Errorf("pkgfmt: open envelope: %w", err)
	}
	uncompressedLen, hasLen = er.UncompressedLen, er.HasUncompressedLen

	rr := wire.NewReader(er)
	for {
		relPtr, err := rr.BoundedString(MaxPathLen)
		if err != nil {
			return uncompressedLen, hasLen, recordCount, fmt.Errorf("pkgfmt: read path: %w", err)
		}
		if relPtr == nil {
			return uncompressedLen, hasLen, recordCount, nil
		}

		itemType, err := rr.Enum(byte(ItemFile), byte(ItemFolder))
		if err != nil {
			return uncompressedLen, hasLen, recordCount, fmt.Errorf("pkgfmt: read item type: %w", err)
		}
		if ItemType(itemType) == ItemFile {
			length, err := rr.Int64()
			if err != nil {
				return uncompressedLen, hasLen, recordCount, fmt.Errorf("pkgfmt: read length: %w", err)
			}
			if length < 0 {
				return uncompressedLen, hasLen, recordCount, fmt.Errorf("%w: negative file length %d", wire.ErrInvalidFormat, length)
			}
			if err := skipBytes(rr, length); err != nil {
				return uncompressedLen, hasLen, recordCount, fmt.Errorf("pkgfmt: skip payload: %w", err)
			}
		}
		recordCount++
	}
}

func skipBytes(rr *wire.Reader, length int64) error {
	const chunkSize = 64 * 1024
	remaining := length
	for remaining > 0 {
		n := int64(chunkSize)
		if remaining < n {
			n = remaining
		}
		if _, err := rr.Bytes(n); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}
