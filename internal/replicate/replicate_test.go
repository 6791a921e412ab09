package replicate

import (
	"context"
	"errors"
	"testing"
)

// fakeTransport records copies and fails for configured targets.
type fakeTransport struct {
	calls    []string // "localPath->target"
	failFor  map[string]error
	failFile string // fail only when copying this local path
}

func (f *fakeTransport) Copy(ctx context.Context, localPath, target string) error {
	f.calls = append(f.calls, localPath+"->"+target)
	if err, ok := f.failFor[target]; ok {
		if f.failFile == "" || f.failFile == localPath {
			return err
		}
	}
	return nil
}

func dests(tr Transport, targets ...string) []Destination {
	var out []Destination
	for _, t := range targets {
		out = append(out, Destination{Target: t, Transport: tr})
	}
	return out
}

func TestNewReplicatorRejectsEmptyDestinations(t *testing.T) {
	if _, err := NewReplicator(nil); err == nil {
		t.Fatal("expected error for empty destination list")
	}
}

func TestReplicateAllSucceed(t *testing.T) {
	tr := &fakeTransport{}
	r, err := NewReplicator(dests(tr, "host1:/b", "host2:/b"))
	if err != nil {
		t.Fatal(err)
	}

	failures := r.Replicate(context.Background(), "/tmp/a.img", "/tmp/a.txt")
	if failures != nil {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if len(tr.calls) != 4 {
		t.Errorf("got %d copies, want 4 (2 files x 2 targets)", len(tr.calls))
	}
}

func TestReplicateAttemptsEveryTargetAfterFailure(t *testing.T) {
	bad := errors.New("connection refused")
	tr := &fakeTransport{failFor: map[string]error{"host2:/b": bad}}
	r, _ := NewReplicator(dests(tr, "host1:/b", "host2:/b", "host3:/b"))

	failures := r.Replicate(context.Background(), "/tmp/a.img", "/tmp/a.txt")

	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1: %v", len(failures), failures)
	}
	if failures[0].Target != "host2:/b" {
		t.Errorf("failed target = %q, want host2:/b", failures[0].Target)
	}
	if !errors.Is(failures[0], bad) {
		t.Error("failure does not wrap transport error")
	}

	// host3 must still have been attempted after host2 failed.
	want := []string{
		"/tmp/a.img->host1:/b", "/tmp/a.txt->host1:/b",
		"/tmp/a.img->host2:/b",
		"/tmp/a.img->host3:/b", "/tmp/a.txt->host3:/b",
	}
	if len(tr.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", tr.calls, want)
	}
	for i := range want {
		if tr.calls[i] != want[i] {
			t.Errorf("call[%d] = %q, want %q", i, tr.calls[i], want[i])
		}
	}
}

func TestReplicatePartialPairIsTargetFailure(t *testing.T) {
	bad := errors.New("disk full")
	// The second file of the pair fails; the target must count as failed.
	tr := &fakeTransport{
		failFor:  map[string]error{"host1:/b": bad},
		failFile: "/tmp/a.txt",
	}
	r, _ := NewReplicator(dests(tr, "host1:/b"))

	failures := r.Replicate(context.Background(), "/tmp/a.img", "/tmp/a.txt")
	if len(failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(failures))
	}
}

func TestReplicateAllTargetsFail(t *testing.T) {
	bad := errors.New("unreachable")
	tr := &fakeTransport{failFor: map[string]error{"h1:/b": bad, "h2:/b": bad}}
	r, _ := NewReplicator(dests(tr, "h1:/b", "h2:/b"))

	failures := r.Replicate(context.Background(), "/tmp/a.img")
	if len(failures) != 2 {
		t.Fatalf("got %d failures, want 2", len(failures))
	}
}

func TestParseSSHTarget(t *testing.T) {
	tests := []struct {
		target  string
		user    string
		addr    string
		dir     string
		wantErr bool
	}{
		{"ssh://root@backup.example.com/var/backups", "root", "backup.example.com:22", "/var/backups", false},
		{"ssh://bk@10.0.0.5:2222/srv/luks", "bk", "10.0.0.5:2222", "/srv/luks", false},
		{"ssh://backup.example.com/dir", "", "", "", true},    // no user
		{"ssh://root@backup.example.com", "", "", "", true},   // no dir
		{"root@host:/dir", "", "", "", true},                  // scp spec, not a URL
	}
	for _, tt := range tests {
		user, addr, dir, err := parseSSHTarget(tt.target)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseSSHTarget(%q): expected error", tt.target)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseSSHTarget(%q): %v", tt.target, err)
			continue
		}
		if user != tt.user || addr != tt.addr || dir != tt.dir {
			t.Errorf("parseSSHTarget(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tt.target, user, addr, dir, tt.user, tt.addr, tt.dir)
		}
	}
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/plain/path", "'/plain/path'"},
		{"/with space", "'/with space'"},
		{"/it's", `'/it'\''s'`},
	}
	for _, tt := range tests {
		if got := shellQuote(tt.in); got != tt.want {
			t.Errorf("shellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
