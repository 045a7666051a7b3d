package taskrun

import (
	"fmt"
	"path"
	"path/filepath"
	"time"
)

// logStampLayout prefixes always-capture-log filenames so they sort by time
// and never overwrite the logs of earlier runs.
const logStampLayout = "20060102.150405"

// MountPlanner turns the declared container-internal paths of one group
// ("inputs" or "outputs") into concrete staging locations and bind-mount
// descriptors, pre-creating the local files and directories so the
// container runtime can tell file binds from directory binds.
type MountPlanner struct {
	mapper *PathMapper
	fs     FileSystem
	now    func() time.Time
}

func NewMountPlanner(mapper *PathMapper, fs FileSystem, now func() time.Time) *MountPlanner {
	return &MountPlanner{mapper: mapper, fs: fs, now: now}
}

// Plan maps every declared path onto the group's staging root, in
// declaration order. Planning stops at the first invalid path: a malformed
// declaration is a setup error, not a per-path condition to skip.
func (p *MountPlanner) Plan(declared []string, localPrefix string) ([]PathMapping, error) {
	mappings := make([]PathMapping, 0, len(declared))
	for _, d := range declared {
		m, err := p.plan(d, localPrefix)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, nil
}

func (p *MountPlanner) plan(declared, localPrefix string) (PathMapping, error) {
	kind, internal := ParseCapture(declared)

	if kind != CaptureNone {
		dir, filename := path.Split(internal)
		if filename == "" {
			return PathMapping{}, fmt.Errorf(
				"a capture path must name a file, not a directory: %q", declared)
		}
		if kind == CaptureLog {
			internal = path.Join(dir, p.now().Format(logStampLayout)+"_"+filename)
		}
	}

	local, err := p.mapper.Rebase(internal, localPrefix)
	if err != nil {
		return PathMapping{}, err
	}
	subPath, err := p.mapper.Rebase(internal, "")
	if err != nil {
		return PathMapping{}, err
	}

	if err := p.fs.MkdirAll(filepath.Dir(local), DirPermission); err != nil {
		return PathMapping{}, fmt.Errorf("creating staging directories for %q: %w", local, err)
	}
	if !NamesADirectory(local) {
		if err := p.fs.EnsureFile(local); err != nil {
			return PathMapping{}, fmt.Errorf("pre-creating staging file %q: %w", local, err)
		}
	}

	// Captures never bind-mount; they are written locally after the run.
	var mount *BindMount
	if kind == CaptureNone {
		mount = &BindMount{Source: local, Target: internal}
	}

	return PathMapping{
		Kind:        kind,
		LocalPrefix: localPrefix,
		Local:       local,
		SubPath:     subPath,
		Mount:       mount,
	}, nil
}
