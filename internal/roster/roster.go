// Package roster loads the fixed set of known identities at startup.
package roster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/rollcall/internal/presence"
	"github.com/schollz/progressbar/v3"
)

var (
	// ErrRosterDir is fatal: the roster directory could not be read.
	ErrRosterDir = errors.New("roster directory unavailable")
	// ErrNoFace marks an image in which the encoder found no face.
	ErrNoFace = errors.New("no face found")
	// ErrReservedIdentity marks a filename whose stem cannot name a person.
	ErrReservedIdentity = errors.New("reserved identity name")
)

// Encoder turns a reference image into zero or more face signatures.
type Encoder interface {
	Encode(ctx context.Context, image []byte) ([][]float64, error)
}

// Warning records an image that was skipped. It never stops a load.
type Warning struct {
	File string
	Err  error
}

func (w Warning) Error() string { return fmt.Sprintf("%s: %v", w.File, w.Err) }
func (w Warning) Unwrap() error { return w.Err }

// Roster is immutable once loaded.
type Roster struct {
	entries  []presence.Candidate
	warnings []Warning
}

// Options tunes Load.
type Options struct {
	// Progress receives a progress bar when non-nil.
	Progress io.Writer
}

// Extensions accepted as roster images.
var Extensions = []string{".jpg", ".jpeg", ".png"}

// IdentityFromFilename returns the filename stem before the first '.'.
func IdentityFromFilename(name string) presence.Identity {
	base := filepath.Base(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return presence.Identity(base)
}

func accepted(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Load encodes each accepted image in dir, in filename order. Images that
// yield no signature, fail to read, or fail to encode are skipped and kept as
// warnings. An empty roster is valid.
func Load(ctx context.Context, dir string, enc Encoder, opts Options) (*Roster, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRosterDir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && accepted(e.Name()) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var bar *progressbar.ProgressBar
	if opts.Progress != nil && len(files) > 0 {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("👤 Loading roster"),
			progressbar.OptionSetWriter(opts.Progress),
			progressbar.OptionShowCount(),
		)
	}

	r := &Roster{}
	seen := make(map[presence.Identity]string)
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if bar != nil {
			bar.Add(1)
		}

		id := IdentityFromFilename(name)
		if id == presence.Unknown || id == "" {
			r.warn(name, fmt.Errorf("%w %q: rename the image", ErrReservedIdentity, id))
			continue
		}
		if prev, dup := seen[id]; dup {
			r.warn(name, fmt.Errorf("identity %q already loaded from %s", id, prev))
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			r.warn(name, err)
			continue
		}

		sigs, err := enc.Encode(ctx, data)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.warn(name, err)
			continue
		}
		if len(sigs) == 0 || len(sigs[0]) == 0 {
			r.warn(name, ErrNoFace)
			continue
		}
		if len(sigs) > 1 {
			slog.Warn("roster: multiple faces in reference image, using the first", "file", name, "faces", len(sigs))
		}

		seen[id] = name
		r.entries = append(r.entries, presence.Candidate{Identity: id, Signature: presence.Signature(sigs[0])})
		slog.Debug("roster: loaded", "file", name, "identity", id)
	}
	if bar != nil {
		bar.Finish()
	}

	if len(r.entries) == 0 {
		slog.Warn("roster: no faces were loaded, every detection will be Unknown", "dir", dir)
	}
	return r, nil
}

func (r *Roster) warn(file string, err error) {
	slog.Warn("roster: skipping image", "file", file, "error", err)
	r.warnings = append(r.warnings, Warning{File: file, Err: err})
}

// Len is the number of loaded identities.
func (r *Roster) Len() int { return len(r.entries) }

// Identities returns the identity keys in roster order.
func (r *Roster) Identities() []presence.Identity {
	out := make([]presence.Identity, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Identity
	}
	return out
}

// Candidates returns the roster entries in tie-break order.
func (r *Roster) Candidates() []presence.Candidate {
	return append([]presence.Candidate(nil), r.entries...)
}

// Warnings returns the images skipped during Load.
func (r *Roster) Warnings() []Warning {
	return append([]Warning(nil), r.warnings...)
}
