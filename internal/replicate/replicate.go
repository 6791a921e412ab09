// Package replicate copies backup artifacts to every configured
// destination and reports the full set of failures instead of stopping
// at the first one.
package replicate

import (
	"context"
	"fmt"
	"log"
)

// Transport copies one local file to one destination. Implementations
// wrap scp, a native SSH session, or a local directory.
type Transport interface {
	Copy(ctx context.Context, localPath, target string) error
}

// Destination pairs a target spec with the transport that understands it.
type Destination struct {
	Target    string
	Transport Transport
}

// TargetFailure records one destination that could not be fully served.
type TargetFailure struct {
	Target string
	Err    error
}

func (f TargetFailure) Error() string {
	return fmt.Sprintf("copy to %s: %v", f.Target, f.Err)
}

func (f TargetFailure) Unwrap() error { return f.Err }

// Replicator fans a device's artifact pair out to a fixed destination set.
type Replicator struct {
	dests []Destination
}

// NewReplicator requires at least one destination: extracting headers
// with nowhere to send them is pointless.
func NewReplicator(dests []Destination) (*Replicator, error) {
	if len(dests) == 0 {
		return nil, fmt.Errorf("replicate: no destinations configured")
	}
	return &Replicator{dests: dests}, nil
}

// Replicate copies every file to every destination. A destination only
// succeeds if all files copy cleanly; a partial pair counts as a failure
// for that destination. Every destination is attempted regardless of
// earlier failures so one run reports the complete set of unreachable
// targets. The returned slice is nil when all destinations succeeded.
func (r *Replicator) Replicate(ctx context.Context, files ...string) []TargetFailure {
	var failures []TargetFailure

	for _, dest := range r.dests {
		if err := copyAll(ctx, dest, files); err != nil {
			log.Printf("replicate: %s: %v", dest.Target, err)
			failures = append(failures, TargetFailure{Target: dest.Target, Err: err})
			continue
		}
		log.Printf("replicate: copied %d file(s) to %s", len(files), dest.Target)
	}
	return failures
}

func copyAll(ctx context.Context, dest Destination, files []string) error {
	for _, f := range files {
		if err := dest.Transport.Copy(ctx, f, dest.Target); err != nil {
			return err
		}
	}
	return nil
}
