package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/roach88/autolock/internal/artifact"
	"github.com/roach88/autolock/internal/protocol"
	"github.com/roach88/autolock/internal/store"
)

// MetaNamespace holds runner bookkeeping that must survive restarts.
var MetaNamespace = store.Join("autolock", "meta")

const fingerprintKey = "template_fingerprint"

// Artifacts are the files generated for one session.
type Artifacts struct {
	StrategyFiles []string `json:"strategy_files"`
	Whitelist     string   `json:"whitelist"`
	RunConfig     string   `json:"run_config"`
	Preload       string   `json:"preload"`

	// Fingerprint identifies the template set the ids were assigned from.
	Fingerprint string `json:"fingerprint"`

	// Numbering maps strategy ids back to their family.
	Numbering artifact.Numbering `json:"-"`

	// Locks and Skips count what the preload seeds.
	Locks int `json:"locks"`
	Skips int `json:"skips"`
}

// Prepare loads the stores and writes every artifact into the work
// directory. Start runs it before spawning; it is also usable on its own
// to inspect what the engine would be given.
func (r *Runner) Prepare(ctx context.Context) (Artifacts, error) {
	r.stores.Disallow.Load(ctx)
	if r.stores.Whitelist != nil {
		r.stores.Whitelist.Load(ctx)
	}
	for _, c := range r.stores.Commit.Load(ctx) {
		r.observer.Output(fmt.Sprintf("conflict: dropped %s lock %s -> strategy %d (disallowed)",
			c.Protocol, c.Host, c.Strategy))
	}

	numbering, err := artifact.Number(r.cfg.Templates)
	if err != nil {
		return Artifacts{}, newError(ErrCodeArtifact, err, "number strategy templates")
	}
	fingerprint := artifact.Fingerprint(r.cfg.Templates)
	r.checkFingerprint(ctx, fingerprint)
	if n := r.stores.Commit.Prune(ctx, numbering.Valid); n > 0 {
		r.observer.Output(fmt.Sprintf("pruned %d locks on strategies that no longer exist", n))
	}

	out := Artifacts{Fingerprint: fingerprint, Numbering: numbering}
	var profiles []artifact.Profile
	for _, f := range numbering.Files {
		path := filepath.Join(r.cfg.WorkDir, "strategies", string(f.Protocol), f.Name)
		if err := r.write(path, f.Doc, artifact.Strategy); err != nil {
			return Artifacts{}, err
		}
		out.StrategyFiles = append(out.StrategyFiles, path)
		profiles = append(profiles, artifact.Profile{
			Protocol:     f.Protocol,
			Ports:        r.cfg.Ports[f.Protocol],
			StrategyFile: path,
		})
	}

	var domains []string
	if r.stores.Whitelist != nil {
		domains = r.stores.Whitelist.Domains()
	}
	out.Whitelist = filepath.Join(r.cfg.WorkDir, "whitelist.txt")
	if err := r.write(out.Whitelist, artifact.BuildWhitelist(domains), artifact.Whitelist); err != nil {
		return Artifacts{}, err
	}

	out.RunConfig = filepath.Join(r.cfg.WorkDir, "runconfig.txt")
	runConfig := artifact.BuildRunConfig(artifact.RunConfigInput{
		TCPPorts:      tcpPorts(r.cfg.Ports),
		UDPPorts:      r.cfg.Ports[protocol.UDP],
		WhitelistPath: out.Whitelist,
		Profiles:      profiles,
	})
	if err := r.write(out.RunConfig, runConfig, artifact.RunConfig); err != nil {
		return Artifacts{}, err
	}

	snap := r.stores.Commit.Snapshot()
	preload := artifact.BuildPreload(artifact.PreloadInput{
		Locks:        snap.Locks,
		History:      snap.History,
		Disallowed:   r.stores.Disallow.Entries(),
		KnownBlocked: r.stores.Disallow.KnownBlocked(),
		Blocked:      r.stores.Disallow.IsBlocked,
	})
	out.Preload = filepath.Join(r.cfg.WorkDir, "preload.txt")
	if err := r.write(out.Preload, preload, artifact.Preload); err != nil {
		return Artifacts{}, err
	}
	out.Locks = preload.Count(artifact.KindLock)
	out.Skips = preload.Count(artifact.KindSkip) + preload.Count(artifact.KindSkipSuffix)

	r.logger.Debug("artifacts written",
		"dir", r.cfg.WorkDir, "strategies", numbering.Total(), "locks", out.Locks, "skips", out.Skips)
	return out, nil
}

func (r *Runner) write(path string, doc artifact.Document, f artifact.Formatter) error {
	data, err := artifact.Render(doc, f)
	if err != nil {
		return newError(ErrCodeArtifact, err, "render %s", filepath.Base(path))
	}
	if err := artifact.WriteFile(path, data); err != nil {
		return newError(ErrCodeArtifact, err, "write %s", filepath.Base(path))
	}
	return nil
}

// checkFingerprint records the template fingerprint and logs when it
// changed since the last run. Read and write failures only cost the log
// line.
func (r *Runner) checkFingerprint(ctx context.Context, fingerprint string) {
	var previous string
	data, err := r.stores.KV.Get(ctx, MetaNamespace, fingerprintKey)
	switch {
	case err == nil:
		if err := store.Unmarshal(data, &previous); err != nil {
			r.logger.Warn("stored template fingerprint unreadable", "error", err)
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		r.logger.Warn("template fingerprint unreadable", "error", err)
	}

	if previous == fingerprint {
		return
	}
	if previous != "" {
		r.logger.Warn("strategy templates changed since last run", "previous", previous, "current", fingerprint)
	}
	data, err = store.Marshal(fingerprint)
	if err == nil {
		err = r.stores.KV.Put(ctx, MetaNamespace, fingerprintKey, data)
	}
	if err != nil {
		r.logger.Error("template fingerprint write failed", "error", err)
	}
}

// tcpPorts is the union of the HTTP and TLS ports in that order.
func tcpPorts(ports map[protocol.Protocol][]string) []string {
	var out []string
	for _, p := range []protocol.Protocol{protocol.HTTP, protocol.TLS} {
		for _, port := range ports[p] {
			if !slices.Contains(out, port) {
				out = append(out, port)
			}
		}
	}
	return out
}
