// Package header extracts LUKS header backup bundles.
//
// The cryptsetup calls sit behind the Manager interface, one method per
// operation, so extraction logic is testable with a fake that writes
// canned bytes instead of touching real devices.
package header

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"luksward/internal/execx"
	"luksward/internal/probe"
)

// Extraction stages, preserved in errors so the caller knows which
// external operation failed.
const (
	StageBackup = "backup"
	StageDump   = "dump"
	StageHash   = "hash"
)

// Manager is the header-management collaborator (cryptsetup).
type Manager interface {
	// Backup writes a binary header backup of the device to outPath.
	Backup(ctx context.Context, devicePath, outPath string) error
	// Dump writes the human-readable header metadata of the device to outPath.
	Dump(ctx context.Context, devicePath, outPath string) error
}

// CryptsetupManager shells out to cryptsetup.
type CryptsetupManager struct {
	// Timeout bounds each cryptsetup invocation.
	Timeout time.Duration
}

func NewCryptsetupManager() *CryptsetupManager {
	return &CryptsetupManager{Timeout: 60 * time.Second}
}

func (m *CryptsetupManager) Backup(ctx context.Context, devicePath, outPath string) error {
	ctx, cancel := m.bound(ctx)
	defer cancel()
	return execx.Run(ctx, "cryptsetup", "luksHeaderBackup", devicePath,
		"--header-backup-file", outPath)
}

func (m *CryptsetupManager) Dump(ctx context.Context, devicePath, outPath string) error {
	ctx, cancel := m.bound(ctx)
	defer cancel()
	out, err := execx.Output(ctx, "cryptsetup", "luksDump", devicePath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, out, 0o600)
}

func (m *CryptsetupManager) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.Timeout)
}

// Bundle is one device's extracted artifacts. It lives for a single
// pipeline iteration; Remove releases the underlying files.
type Bundle struct {
	Device    probe.LuksDevice
	ImagePath string
	DumpPath  string
	SHA256    [sha256.Size]byte
}

// Remove deletes both artifact files. Missing files are not an error so
// Remove is safe to call on any path, including after a rename.
func (b *Bundle) Remove() error {
	var errs []error
	for _, p := range []string{b.ImagePath, b.DumpPath} {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ExtractionError reports which stage of extraction failed for a device.
type ExtractionError struct {
	Device probe.LuksDevice
	Stage  string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %s: %v", e.Device.Path, e.Device.UUID, e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extractor produces header bundles through a Manager.
type Extractor struct {
	mgr Manager
}

func NewExtractor(m Manager) *Extractor {
	return &Extractor{mgr: m}
}

// Extract backs up the device header into workDir, dumps its metadata,
// and hashes the binary backup. On any failure the partially created
// files are removed before the error is returned.
func (e *Extractor) Extract(ctx context.Context, dev probe.LuksDevice, workDir string) (*Bundle, error) {
	bundle := &Bundle{
		Device:    dev,
		ImagePath: filepath.Join(workDir, dev.UUID+".img.tmp"),
		DumpPath:  filepath.Join(workDir, dev.UUID+".txt.tmp"),
	}

	if err := e.mgr.Backup(ctx, dev.Path, bundle.ImagePath); err != nil {
		bundle.Remove()
		return nil, &ExtractionError{Device: dev, Stage: StageBackup, Err: err}
	}
	if err := os.Chmod(bundle.ImagePath, 0o600); err != nil {
		bundle.Remove()
		return nil, &ExtractionError{Device: dev, Stage: StageBackup, Err: err}
	}

	if err := e.mgr.Dump(ctx, dev.Path, bundle.DumpPath); err != nil {
		bundle.Remove()
		return nil, &ExtractionError{Device: dev, Stage: StageDump, Err: err}
	}
	if info, err := os.Stat(bundle.DumpPath); err != nil {
		bundle.Remove()
		return nil, &ExtractionError{Device: dev, Stage: StageDump, Err: err}
	} else if info.Size() == 0 {
		bundle.Remove()
		return nil, &ExtractionError{Device: dev, Stage: StageDump,
			Err: errors.New("header dump file is empty")}
	}

	data, err := os.ReadFile(bundle.ImagePath)
	if err != nil {
		bundle.Remove()
		return nil, &ExtractionError{Device: dev, Stage: StageHash, Err: err}
	}
	if len(data) == 0 {
		bundle.Remove()
		return nil, &ExtractionError{Device: dev, Stage: StageHash,
			Err: errors.New("header backup file is empty")}
	}
	bundle.SHA256 = sha256.Sum256(data)

	return bundle, nil
}
