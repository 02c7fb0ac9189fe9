// Package buildinfo reports the version of the running binary.
package buildinfo

import (
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
)

const defaultVersion = "devel"

// Version can be set at link time with:
//
//	-ldflags "-X github.com/fiam/ec2core/pkg/ec2core/buildinfo.Version=vX.Y.Z"
var Version = defaultVersion

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit,omitempty"`
	CommitTime string `json:"commit_time,omitempty"`
	Dirty      bool   `json:"dirty"`
	GoVersion  string `json:"go_version,omitempty"`
}

var (
	current     Info
	currentOnce sync.Once
	readBuild   = debug.ReadBuildInfo
)

func Current() Info {
	currentOnce.Do(func() {
		current = detect()
	})
	return current
}

// String formats the info as a single line, e.g.
// "v1.2.3 (abc123, dirty) go1.26.0"
func (i Info) String() string {
	var b strings.Builder
	b.WriteString(i.Version)
	var details []string
	if i.Commit != "" {
		details = append(details, i.Commit)
	}
	if i.Dirty {
		details = append(details, "dirty")
	}
	if len(details) > 0 {
		b.WriteString(" (" + strings.Join(details, ", ") + ")")
	}
	if i.GoVersion != "" {
		b.WriteString(" " + i.GoVersion)
	}
	return b.String()
}

// LogValue implements slog.LogValuer
func (i Info) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("version", i.Version)}
	if i.Commit != "" {
		attrs = append(attrs, slog.String("commit", i.Commit))
	}
	if i.Dirty {
		attrs = append(attrs, slog.Bool("dirty", true))
	}
	if i.GoVersion != "" {
		attrs = append(attrs, slog.String("go", i.GoVersion))
	}
	return slog.GroupValue(attrs...)
}

func detect() Info {
	info := Info{
		Version: strings.TrimSpace(Version),
	}
	if info.Version == "" {
		info.Version = defaultVersion
	}
	buildInfo, ok := readBuild()
	if !ok || buildInfo == nil {
		return info
	}
	return applyBuildInfo(info, buildInfo)
}

func applyBuildInfo(info Info, buildInfo *debug.BuildInfo) Info {
	if buildInfo.GoVersion != "" {
		info.GoVersion = buildInfo.GoVersion
	}
	if info.Version == defaultVersion && buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
		info.Version = buildInfo.Main.Version
	}
	if revision, ok := setting(buildInfo.Settings, "vcs.revision"); ok {
		info.Commit = revision
	}
	if vcsTime, ok := setting(buildInfo.Settings, "vcs.time"); ok {
		info.CommitTime = vcsTime
	}
	if modified, ok := setting(buildInfo.Settings, "vcs.modified"); ok {
		info.Dirty = strings.EqualFold(modified, "true")
	}
	return info
}

func setting(settings []debug.BuildSetting, key string) (string, bool) {
	idx := slices.IndexFunc(settings, func(s debug.BuildSetting) bool {
		return s.Key == key
	})
	if idx < 0 {
		return "", false
	}
	value := strings.TrimSpace(settings[idx].Value)
	return value, value != ""
}
