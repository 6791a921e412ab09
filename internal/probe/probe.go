// Package probe discovers block devices that carry a LUKS header.
//
// Enumeration goes through the Prober interface so the parsing and
// filtering logic can be tested against canned blkid output without
// touching real devices.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"luksward/internal/execx"
)

// luksTypePrefix matches any LUKS-flavored TYPE tag blkid reports,
// regardless of header version.
const luksTypePrefix = "crypto_LUKS"

// LuksDevice identifies one encrypted block device.
type LuksDevice struct {
	Path string
	UUID string
}

// DiscoveryError means the probe itself is unusable: the probe command
// failed, its output was malformed, or a LUKS device violated an
// invariant (missing or duplicate UUID). It aborts the whole run.
type DiscoveryError struct {
	Reason string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device discovery: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("device discovery: %s", e.Reason)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Prober enumerates block devices and returns the raw probe output.
type Prober interface {
	Probe(ctx context.Context) ([]byte, error)
}

// BlkidProber shells out to blkid in export format, one KEY=VALUE block
// per device separated by blank lines.
type BlkidProber struct {
	// Timeout bounds a single blkid invocation.
	Timeout time.Duration
}

func NewBlkidProber() *BlkidProber {
	return &BlkidProber{Timeout: 30 * time.Second}
}

func (p *BlkidProber) Probe(ctx context.Context) ([]byte, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	out, err := execx.Output(ctx, "blkid", "-o", "export")
	if err != nil {
		// blkid exits 2 when it has nothing to report. That is a valid
		// "no devices" answer, not a probe failure.
		var exitErr *execx.ExitError
		if errors.As(err, &exitErr) && exitErr.Code == 2 {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// Lister filters probe output down to LUKS devices.
type Lister struct {
	prober Prober
}

func NewLister(p Prober) *Lister {
	return &Lister{prober: p}
}

// List returns every LUKS device the probe reports, in probe order.
// An empty result is not an error; a broken probe, a LUKS device
// without a UUID, or two devices sharing a UUID is.
func (l *Lister) List(ctx context.Context) ([]LuksDevice, error) {
	out, err := l.prober.Probe(ctx)
	if err != nil {
		return nil, &DiscoveryError{Reason: "probe failed", Err: err}
	}

	devices, err := parseExport(string(out))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(devices))
	for _, d := range devices {
		if prev, ok := seen[d.UUID]; ok {
			return nil, &DiscoveryError{
				Reason: fmt.Sprintf("duplicate UUID %s on %s and %s", d.UUID, prev, d.Path),
			}
		}
		seen[d.UUID] = d.Path
	}
	return devices, nil
}

// parseExport walks blkid -o export output: blank-line separated
// segments of KEY=VALUE lines, one segment per device.
func parseExport(out string) ([]LuksDevice, error) {
	var devices []LuksDevice

	for _, segment := range strings.Split(out, "\n\n") {
		fields := make(map[string]string)
		for _, line := range strings.Split(segment, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				return nil, &DiscoveryError{
					Reason: fmt.Sprintf("malformed probe line %q", line),
				}
			}
			fields[key] = value
		}

		if !strings.HasPrefix(fields["TYPE"], luksTypePrefix) {
			continue
		}

		path := fields["DEVNAME"]
		if path == "" {
			return nil, &DiscoveryError{Reason: "LUKS device without DEVNAME"}
		}
		uuid := fields["UUID"]
		if uuid == "" {
			return nil, &DiscoveryError{
				Reason: fmt.Sprintf("LUKS device %s has no UUID", path),
			}
		}
		devices = append(devices, LuksDevice{Path: path, UUID: uuid})
	}
	return devices, nil
}
