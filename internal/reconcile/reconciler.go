// Package reconcile keeps one local file consistent with one remote object,
// using a SHA-512 digest recorded in the object's metadata as the baseline.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openmined/objmirror/internal/backup"
	"github.com/openmined/objmirror/internal/digest"
	"github.com/openmined/objmirror/internal/store"
	"github.com/openmined/objmirror/internal/utils"
)

// DefaultMetadataField is the metadata key holding the digest.
const DefaultMetadataField = "sha512"

// sidecarSuffix ends the name of temporary downloads next to the local path.
const sidecarSuffix = ".new"

// Config binds a reconciler to one local path and one remote object.
type Config struct {
	Bucket    string
	Key       string
	LocalPath string

	// MetadataField is the user metadata key holding the digest. Lookups
	// ignore case.
	MetadataField string

	// BackupPolicy decides what happens to an existing .bak file.
	BackupPolicy backup.Policy

	// SeedMissingRemote uploads the local file when the remote object does
	// not exist. Without it a missing object is an error.
	SeedMissingRemote bool
}

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.Key == "" {
		return errors.New("key is required")
	}
	if c.LocalPath == "" {
		return errors.New("local path is required")
	}
	if c.MetadataField == "" {
		c.MetadataField = DefaultMetadataField
	}
	c.MetadataField = strings.ToLower(c.MetadataField)
	if _, err := backup.ParsePolicy(string(c.BackupPolicy)); err != nil {
		return err
	}
	return nil
}

// Reconciler runs reconciliation passes. A Reconciler is not safe for
// concurrent passes over the same path; callers serialize with a path lock.
type Reconciler struct {
	cfg   Config
	store store.ObjectStore
	mover *backup.Mover
	log   *slog.Logger

	rename func(oldpath, newpath string) error
}

func New(s store.ObjectStore, cfg *Config) (*Reconciler, error) {
	if s == nil {
		return nil, errors.New("object store is required")
	}
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reconcile config: %w", err)
	}
	mover, err := backup.NewMover(c.BackupPolicy)
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		cfg:    c,
		store:  s,
		mover:  mover,
		log:    slog.With("bucket", c.Bucket, "key", c.Key, "path", c.LocalPath),
		rename: os.Rename,
	}, nil
}

func (r *Reconciler) Config() Config {
	return r.cfg
}

// Run performs one pass. The returned Result is never nil. A DigestMismatch
// anomaly is reported on the Result, not as an error; the error is reserved
// for passes that could not complete.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	res := &Result{
		Bucket:    r.cfg.Bucket,
		Key:       r.cfg.Key,
		LocalPath: r.cfg.LocalPath,
		StartedAt: time.Now(),
	}
	err := r.run(ctx, res)
	res.Duration = time.Since(res.StartedAt)
	return res, err
}

func (r *Reconciler) run(ctx context.Context, res *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	head, headErr := r.store.HeadMetadata(ctx, r.cfg.Bucket, r.cfg.Key)
	switch {
	case headErr == nil:
		res.State.RemoteExists = true
		if v, ok := store.LookupMetadata(head.Metadata, r.cfg.MetadataField); ok && strings.TrimSpace(v) != "" {
			res.State.RemoteDigestPresent = true
			res.RemoteDigest = digest.Normalize(v)
			if !res.RemoteDigest.Valid() {
				r.log.Warn("remote digest is malformed", "field", r.cfg.MetadataField, "value", v)
			}
		}
	case errors.Is(headErr, store.ErrNotFound):
	default:
		return headErr
	}

	localExists, err := utils.StatFile(r.cfg.LocalPath)
	if err != nil {
		return &IOError{Op: "stat", Path: r.cfg.LocalPath, Err: err}
	}
	res.State.LocalExists = localExists

	r.log.Debug("reconcile state", "state", res.State.String())

	switch {
	case !res.State.RemoteExists:
		return r.remoteMissing(ctx, res, headErr)
	case res.State.LocalExists && res.State.RemoteDigestPresent:
		return r.compareAndReplace(ctx, res)
	case res.State.LocalExists:
		return r.resolveUntrusted(ctx, res, head)
	case res.State.RemoteDigestPresent:
		return r.downloadAndVerify(ctx, res)
	default:
		return r.downloadAndBaseline(ctx, res, head)
	}
}

// compareAndReplace handles a local file against a digested remote. The remote
// is authoritative; the body is verified against its metadata before local
// content is touched.
func (r *Reconciler) compareAndReplace(ctx context.Context, res *Result) error {
	localDigest, err := digest.File(r.cfg.LocalPath)
	if err != nil {
		return &IOError{Op: "digest", Path: r.cfg.LocalPath, Err: err}
	}
	res.LocalDigest = localDigest

	if localDigest.Equal(res.RemoteDigest) {
		res.Action = ActionInSync
		r.log.Debug("local matches remote digest", "digest", localDigest.Short())
		return nil
	}

	r.log.Info("local differs from remote digest", "local", localDigest.Short(), "remote", res.RemoteDigest.Short())

	sidecar, _, bodyDigest, err := r.fetchSidecar(ctx)
	if err != nil {
		return err
	}
	defer r.discard(sidecar)
	res.BodyDigest = bodyDigest

	if !bodyDigest.Equal(res.RemoteDigest) {
		res.Action = ActionUnresolved
		res.Anomaly = r.mismatch(sidecar, res.RemoteDigest, bodyDigest)
		r.log.Error("remote body does not match its digest, local left untouched", "error", res.Anomaly)
		return nil
	}

	if err := r.promote(res, sidecar); err != nil {
		return err
	}
	res.LocalDigest = bodyDigest
	res.Action = ActionReplacedLocal
	r.log.Info("replaced local with remote", "backup", res.BackupPath, "digest", bodyDigest.Short())
	return nil
}

// resolveUntrusted handles a local file against a remote without a digest.
// Neither side can be trusted as a baseline, so the remote body is fetched and
// compared by content.
func (r *Reconciler) resolveUntrusted(ctx context.Context, res *Result, head *store.ObjectInfo) error {
	sidecar, info, bodyDigest, err := r.fetchSidecar(ctx)
	if err != nil {
		return err
	}
	defer r.discard(sidecar)
	res.BodyDigest = bodyDigest

	localDigest, err := digest.File(r.cfg.LocalPath)
	if err != nil {
		return &IOError{Op: "digest", Path: r.cfg.LocalPath, Err: err}
	}
	res.LocalDigest = localDigest

	if localDigest.Equal(bodyDigest) {
		r.discard(sidecar)
		if err := r.setBaseline(ctx, res, r.cfg.LocalPath, bodyDigest, info, head); err != nil {
			return err
		}
		res.Action = ActionBaselineEstablished
		r.log.Info("contents equal, recorded baseline digest", "digest", bodyDigest.Short())
		return nil
	}

	r.log.Info("local differs from undigested remote, promoting remote",
		"local", localDigest.Short(), "remote", bodyDigest.Short())

	if err := r.promote(res, sidecar); err != nil {
		return err
	}
	res.LocalDigest = bodyDigest
	if err := r.setBaseline(ctx, res, r.cfg.LocalPath, bodyDigest, info, head); err != nil {
		return err
	}
	res.Action = ActionPromotedRemote
	r.log.Info("promoted remote and recorded baseline", "backup", res.BackupPath, "digest", bodyDigest.Short())
	return nil
}

// downloadAndVerify fetches a digested remote into a missing local path.
func (r *Reconciler) downloadAndVerify(ctx context.Context, res *Result) error {
	if _, err := r.store.GetObject(ctx, r.cfg.Bucket, r.cfg.Key, r.cfg.LocalPath); err != nil {
		return localErr("download", r.cfg.LocalPath, err)
	}
	bodyDigest, err := digest.File(r.cfg.LocalPath)
	if err != nil {
		return &IOError{Op: "digest", Path: r.cfg.LocalPath, Err: err}
	}
	res.BodyDigest = bodyDigest
	res.LocalDigest = bodyDigest
	res.Action = ActionDownloaded

	if !bodyDigest.Equal(res.RemoteDigest) {
		res.Anomaly = r.mismatch(r.cfg.LocalPath, res.RemoteDigest, bodyDigest)
		r.log.Error("downloaded body does not match its digest, metadata left unchanged", "error", res.Anomaly)
		return nil
	}

	r.log.Info("downloaded remote", "digest", bodyDigest.Short())
	return nil
}

// downloadAndBaseline fetches an undigested remote into a missing local path
// and records its digest.
func (r *Reconciler) downloadAndBaseline(ctx context.Context, res *Result, head *store.ObjectInfo) error {
	info, err := r.store.GetObject(ctx, r.cfg.Bucket, r.cfg.Key, r.cfg.LocalPath)
	if err != nil {
		return localErr("download", r.cfg.LocalPath, err)
	}
	bodyDigest, err := digest.File(r.cfg.LocalPath)
	if err != nil {
		return &IOError{Op: "digest", Path: r.cfg.LocalPath, Err: err}
	}
	res.BodyDigest = bodyDigest
	res.LocalDigest = bodyDigest

	if err := r.setBaseline(ctx, res, r.cfg.LocalPath, bodyDigest, info, head); err != nil {
		return err
	}
	res.Action = ActionBaselineEstablished
	r.log.Info("downloaded remote and recorded baseline", "digest", bodyDigest.Short())
	return nil
}

// remoteMissing handles an absent remote object.
func (r *Reconciler) remoteMissing(ctx context.Context, res *Result, headErr error) error {
	if !res.State.LocalExists {
		return fmt.Errorf("neither local file nor remote object exists: %w", headErr)
	}
	if !r.cfg.SeedMissingRemote {
		return fmt.Errorf("remote object missing and seeding is disabled: %w", headErr)
	}

	localDigest, err := digest.File(r.cfg.LocalPath)
	if err != nil {
		return &IOError{Op: "digest", Path: r.cfg.LocalPath, Err: err}
	}
	res.LocalDigest = localDigest

	meta := map[string]string{r.cfg.MetadataField: localDigest.String()}
	if _, err := r.store.PutObject(ctx, r.cfg.Bucket, r.cfg.Key, r.cfg.LocalPath, meta); err != nil {
		return localErr("upload", r.cfg.LocalPath, err)
	}
	res.Uploaded = true
	res.MetadataUpdated = true
	res.RemoteDigest = localDigest
	res.Action = ActionSeededRemote
	r.log.Info("seeded remote from local", "digest", localDigest.Short())
	return nil
}

// fetchSidecar downloads the remote body next to the local path and hashes it.
// On error nothing is left behind.
func (r *Reconciler) fetchSidecar(ctx context.Context) (string, *store.ObjectInfo, digest.Digest, error) {
	sidecar := utils.SiblingPath(r.cfg.LocalPath, sidecarSuffix)

	info, err := r.store.GetObject(ctx, r.cfg.Bucket, r.cfg.Key, sidecar)
	if err != nil {
		r.discard(sidecar)
		return "", nil, "", localErr("download", sidecar, err)
	}

	d, err := digest.File(sidecar)
	if err != nil {
		r.discard(sidecar)
		return "", nil, "", &IOError{Op: "digest", Path: sidecar, Err: err}
	}
	return sidecar, info, d, nil
}

// promote backs up the local file and renames the sidecar into its place. If
// the rename fails the backup is moved back.
func (r *Reconciler) promote(res *Result, sidecar string) error {
	if err := utils.CopyMode(r.cfg.LocalPath, sidecar); err != nil {
		return &IOError{Op: "chmod", Path: sidecar, Err: err}
	}

	bakPath, err := r.mover.Backup(r.cfg.LocalPath)
	if err != nil {
		return &IOError{Op: "backup", Path: r.cfg.LocalPath, Err: err}
	}
	res.BackupPath = bakPath

	if err := r.rename(sidecar, r.cfg.LocalPath); err != nil {
		if rerr := backup.Restore(bakPath, r.cfg.LocalPath); rerr != nil {
			r.log.Error("failed to restore backup, prior content kept at backup path",
				"backup", bakPath, "error", rerr)
		} else {
			res.BackupPath = ""
		}
		return &IOError{Op: "promote", Path: r.cfg.LocalPath, Err: err}
	}
	return nil
}

// setBaseline records d as the remote digest. It rewrites metadata in place
// when the store supports it, guarded by the ETag of the body that was hashed,
// and otherwise re-uploads bodyPath with the new metadata.
func (r *Reconciler) setBaseline(ctx context.Context, res *Result, bodyPath string, d digest.Digest, info, head *store.ObjectInfo) error {
	base := head.Metadata
	etag := head.ETag
	if info != nil {
		if info.Metadata != nil {
			base = info.Metadata
		}
		if info.ETag != "" {
			etag = info.ETag
		}
	}
	meta := store.MergeMetadata(base, r.cfg.MetadataField, d.String())

	if u, ok := store.Updater(r.store); ok {
		if _, err := u.UpdateMetadata(ctx, r.cfg.Bucket, r.cfg.Key, etag, meta); err != nil {
			return err
		}
		res.MetadataUpdated = true
		res.RemoteDigest = d
		return nil
	}

	if _, err := r.store.PutObject(ctx, r.cfg.Bucket, r.cfg.Key, bodyPath, meta); err != nil {
		return localErr("upload", bodyPath, err)
	}
	res.Uploaded = true
	res.MetadataUpdated = true
	res.RemoteDigest = d
	return nil
}

func (r *Reconciler) mismatch(path string, expected, actual digest.Digest) *DigestMismatchError {
	return &DigestMismatchError{
		Bucket:   r.cfg.Bucket,
		Key:      r.cfg.Key,
		Path:     path,
		Expected: expected,
		Actual:   actual,
	}
}

// discard removes a sidecar. It is a no-op once the sidecar was promoted.
func (r *Reconciler) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.log.Warn("failed to remove temporary download", "path", path, "error", err)
	}
}
