package reconcile

import (
	"fmt"
	"time"

	"github.com/openmined/objmirror/internal/digest"
)

// Action is what a pass did.
type Action string

const (
	// ActionInSync means local already matched the recorded digest.
	ActionInSync Action = "in-sync"
	// ActionReplacedLocal means local was backed up and replaced by the remote body.
	ActionReplacedLocal Action = "replaced-local"
	// ActionDownloaded means the remote body was downloaded to a missing local path.
	ActionDownloaded Action = "downloaded"
	// ActionBaselineEstablished means a missing remote digest was recorded.
	ActionBaselineEstablished Action = "baseline-established"
	// ActionPromotedRemote means local differed from an undigested remote, was
	// backed up, and the remote body became the local copy and the baseline.
	ActionPromotedRemote Action = "promoted-remote"
	// ActionSeededRemote means a missing remote object was uploaded from local.
	ActionSeededRemote Action = "seeded-remote"
	// ActionUnresolved means an anomaly stopped the pass from changing anything.
	ActionUnresolved Action = "unresolved"
)

// State is the input a pass branches on, captured once at entry.
type State struct {
	LocalExists         bool
	RemoteExists        bool
	RemoteDigestPresent bool
}

func (s State) String() string {
	return fmt.Sprintf("local=%s remote=%s digest=%s",
		presence(s.LocalExists), presence(s.RemoteExists), presence(s.RemoteDigestPresent))
}

func presence(ok bool) string {
	if ok {
		return "present"
	}
	return "absent"
}

// Result describes one pass.
type Result struct {
	Bucket    string
	Key       string
	LocalPath string

	State  State
	Action Action

	// LocalDigest is the digest of local content at the end of the pass.
	LocalDigest digest.Digest
	// RemoteDigest is the digest recorded in remote metadata at the end of the pass.
	RemoteDigest digest.Digest
	// BodyDigest is the digest of the remote body when it was downloaded.
	BodyDigest digest.Digest

	// BackupPath is set when prior local content was moved aside.
	BackupPath string
	// Uploaded is set when the body was sent to the store.
	Uploaded bool
	// MetadataUpdated is set when remote metadata was rewritten.
	MetadataUpdated bool

	// Anomaly is set when a downloaded body contradicted its own metadata.
	Anomaly *DigestMismatchError

	StartedAt time.Time
	Duration  time.Duration
}

// Consistent reports whether the pass ended with local matching the recorded
// remote digest.
func (r *Result) Consistent() bool {
	return r.Anomaly == nil && r.LocalDigest.Equal(r.RemoteDigest)
}

// Mutated reports whether the pass changed anything locally or remotely.
func (r *Result) Mutated() bool {
	switch r.Action {
	case ActionInSync, ActionUnresolved, "":
		return false
	}
	return true
}
