package replicate

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DirTransport copies into a local directory. The write goes to a
// hidden temp file first and is renamed into place, so a reader of the
// backup directory never sees a half-written artifact.
type DirTransport struct{}

func (DirTransport) Copy(ctx context.Context, localPath, target string) error {
	if err := os.MkdirAll(target, 0o700); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	name := filepath.Base(localPath)
	tmpPath := filepath.Join(target, "."+name+".tmp")
	finalPath := filepath.Join(target, name)

	if err := copyFile(localPath, tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
