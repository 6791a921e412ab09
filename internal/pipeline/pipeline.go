// Package pipeline drives one backup run: discover LUKS devices,
// extract a header bundle per device, name the artifacts, replicate
// them everywhere, and aggregate the outcome.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"luksward/internal/events"
	"luksward/internal/header"
	"luksward/internal/naming"
	"luksward/internal/probe"
	"luksward/internal/replicate"
)

// Outcome classifies one device's result.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomePartialFailure
	OutcomeExtractionFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartialFailure:
		return "partial_failure"
	case OutcomeExtractionFailed:
		return "extraction_failed"
	default:
		return "unknown"
	}
}

// DeviceResult is the recorded outcome for one device.
type DeviceResult struct {
	Device        probe.LuksDevice
	Outcome       Outcome
	ShortHash     string
	Names         naming.Names
	Err           error
	FailedTargets []replicate.TargetFailure
}

// RunResult aggregates a whole run. It drives the process exit code.
type RunResult struct {
	ID         string
	Hostname   string
	StartedAt  time.Time
	FinishedAt time.Time
	Devices    []DeviceResult
}

// Failed reports whether any device did not fully replicate.
func (r *RunResult) Failed() bool {
	for _, d := range r.Devices {
		if d.Outcome != OutcomeSuccess {
			return true
		}
	}
	return false
}

// ExitCode is 0 only when every device succeeded. A run that found no
// devices is a clean run.
func (r *RunResult) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}

// Collaborator interfaces, narrow so the runner is testable with fakes.

type DeviceLister interface {
	List(ctx context.Context) ([]probe.LuksDevice, error)
}

type Extractor interface {
	Extract(ctx context.Context, dev probe.LuksDevice, workDir string) (*header.Bundle, error)
}

type Replicator interface {
	Replicate(ctx context.Context, files ...string) []replicate.TargetFailure
}

// Runner executes runs sequentially, one device at a time. Each
// device's temporary files live in a work dir scoped to that iteration
// and are released before the next device starts.
type Runner struct {
	Lister     DeviceLister
	Extractor  Extractor
	Replicator Replicator
	Bus        *events.Bus
	Hostname   string

	// WorkRoot is where per-run temp dirs are created; empty means the
	// system default.
	WorkRoot string
}

// Run performs one full backup pass. A discovery failure is fatal and
// returns an error; every other failure is recorded per device in the
// result and the run keeps going.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		ID:        uuid.NewString(),
		Hostname:  r.Hostname,
		StartedAt: time.Now().UTC(),
	}
	log.Printf("pipeline: run %s starting on %s", result.ID, r.Hostname)
	r.publish(events.Event{
		Type:     events.RunStarted,
		Severity: events.SeverityInfo,
		Message:  fmt.Sprintf("backup run %s started", result.ID),
	})

	devices, err := r.Lister.List(ctx)
	if err != nil {
		r.publish(events.Event{
			Type:     events.RunCompleted,
			Severity: events.SeverityCritical,
			Message:  fmt.Sprintf("backup run %s aborted: %v", result.ID, err),
		})
		return nil, err
	}

	if len(devices) == 0 {
		log.Printf("pipeline: no LUKS devices found, nothing to back up")
		result.FinishedAt = time.Now().UTC()
		r.publish(events.Event{
			Type:     events.RunCompleted,
			Severity: events.SeverityInfo,
			Message:  "backup run completed: no LUKS devices found",
		})
		return result, nil
	}
	log.Printf("pipeline: found %d LUKS device(s)", len(devices))

	runDir, err := os.MkdirTemp(r.WorkRoot, "luksward-")
	if err != nil {
		return nil, fmt.Errorf("create run work dir: %w", err)
	}
	defer os.RemoveAll(runDir)

	for _, dev := range devices {
		result.Devices = append(result.Devices, r.processDevice(ctx, runDir, dev))
	}

	result.FinishedAt = time.Now().UTC()
	r.finishEvent(result)
	return result, nil
}

// processDevice runs extract → name → replicate for one device. Its
// work dir, and therefore the bundle, never outlives this call.
func (r *Runner) processDevice(ctx context.Context, runDir string, dev probe.LuksDevice) DeviceResult {
	log.Printf("pipeline: backing up %s (%s)", dev.Path, dev.UUID)

	workDir, err := os.MkdirTemp(runDir, "dev-")
	if err != nil {
		return r.extractionFailure(dev, fmt.Errorf("create device work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	bundle, err := r.Extractor.Extract(ctx, dev, workDir)
	if err != nil {
		return r.extractionFailure(dev, err)
	}
	defer bundle.Remove()

	names := naming.Name(r.Hostname, dev.UUID, bundle.SHA256)
	if err := renameArtifacts(bundle, workDir, names); err != nil {
		return r.extractionFailure(dev, err)
	}
	shortHash := naming.ShortHash(bundle.SHA256)
	log.Printf("pipeline: %s header hash %s", dev.UUID, shortHash)

	res := DeviceResult{
		Device:    dev,
		ShortHash: shortHash,
		Names:     names,
	}

	failures := r.Replicator.Replicate(ctx, bundle.ImagePath, bundle.DumpPath)
	if len(failures) > 0 {
		res.Outcome = OutcomePartialFailure
		res.FailedTargets = failures
		for _, f := range failures {
			r.publish(events.Event{
				Type:       events.ReplicationFailed,
				Severity:   events.SeverityCritical,
				Hostname:   r.Hostname,
				DeviceUUID: dev.UUID,
				Message:    fmt.Sprintf("device %s: %v", dev.Path, f),
			})
		}
		return res
	}

	res.Outcome = OutcomeSuccess
	r.publish(events.Event{
		Type:       events.DeviceBackedUp,
		Severity:   events.SeverityInfo,
		Hostname:   r.Hostname,
		DeviceUUID: dev.UUID,
		Message:    fmt.Sprintf("device %s backed up (%s)", dev.Path, shortHash),
	})
	return res
}

func (r *Runner) extractionFailure(dev probe.LuksDevice, err error) DeviceResult {
	log.Printf("pipeline: %s: %v", dev.Path, err)
	r.publish(events.Event{
		Type:       events.ExtractionFailed,
		Severity:   events.SeverityCritical,
		Hostname:   r.Hostname,
		DeviceUUID: dev.UUID,
		Message:    err.Error(),
	})
	return DeviceResult{Device: dev, Outcome: OutcomeExtractionFailed, Err: err}
}

// renameArtifacts moves the bundle's temp files to their final artifact
// names, so the transported files carry the content-derived names.
func renameArtifacts(b *header.Bundle, workDir string, names naming.Names) error {
	imgPath := filepath.Join(workDir, names.Image)
	if err := os.Rename(b.ImagePath, imgPath); err != nil {
		return fmt.Errorf("rename image artifact: %w", err)
	}
	b.ImagePath = imgPath

	dumpPath := filepath.Join(workDir, names.Dump)
	if err := os.Rename(b.DumpPath, dumpPath); err != nil {
		return fmt.Errorf("rename dump artifact: %w", err)
	}
	b.DumpPath = dumpPath
	return nil
}

func (r *Runner) finishEvent(result *RunResult) {
	failed := 0
	for _, d := range result.Devices {
		if d.Outcome != OutcomeSuccess {
			failed++
		}
	}

	if failed > 0 {
		r.publish(events.Event{
			Type:     events.RunCompleted,
			Severity: events.SeverityCritical,
			Hostname: r.Hostname,
			Message: fmt.Sprintf("backup run %s finished: %d of %d device(s) failed",
				result.ID, failed, len(result.Devices)),
		})
		return
	}
	r.publish(events.Event{
		Type:     events.RunCompleted,
		Severity: events.SeverityInfo,
		Hostname: r.Hostname,
		Message: fmt.Sprintf("backup run %s finished: %d device(s) backed up",
			result.ID, len(result.Devices)),
	})
}

func (r *Runner) publish(e events.Event) {
	if r.Bus == nil {
		return
	}
	if e.Hostname == "" {
		e.Hostname = r.Hostname
	}
	r.Bus.Publish(e)
}
