package source

import (
	"archive/zip"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReadIndex parses a log index: one URL per line, blank lines and lines
// starting with '#' ignored. Entries without a scheme default to https.
func ReadIndex(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "://") {
			line = "https://" + line
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	return urls, nil
}

// Fetch downloads uri into dir and, when it is a zip archive, extracts its
// members next to it. It returns the paths of the extracted .csv logs, or
// the downloaded file itself when it is not an archive.
func (o *Opener) Fetch(ctx context.Context, uri, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}

	var (
		rc  io.ReadCloser
		err error
	)
	switch {
	case strings.HasPrefix(uri, "s3://"):
		rc, err = o.openS3(ctx, uri)
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		rc, err = o.openHTTP(ctx, uri)
	default:
		rc, err = os.Open(uri)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	dest := filepath.Join(dir, Name(uri))
	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("downloading %s: %w", uri, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("writing %s: %w", dest, err)
	}

	if !isZip(dest) {
		return []string{dest}, nil
	}
	return extract(dest, dir)
}

func extract(archive, dir string) ([]string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", archive, err)
	}
	defer func() { _ = zr.Close() }()

	var logs []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		// Flatten member paths so nothing escapes dir.
		dest := filepath.Join(dir, filepath.Base(filepath.FromSlash(f.Name)))
		if err := extractFile(f, dest); err != nil {
			return nil, err
		}
		if strings.EqualFold(filepath.Ext(dest), ".csv") {
			logs = append(logs, dest)
		}
	}
	return logs, nil
}

func extractFile(f *zip.File, dest string) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer func() { _ = src.Close() }()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	return out.Close()
}
