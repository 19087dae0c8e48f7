package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
}

var (
	buildInfoOnce sync.Once
	buildMu       sync.RWMutex
	build         = BuildInfo{Version: "dev", Commit: "unknown", GoVersion: runtime.Version()}

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prodtrack_build_info",
			Help: "Build information of the running binary; always 1.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo records version and commit and exposes them as a metric.
// A missing commit falls back to the VCS revision stamped by the toolchain.
func InitBuildInfo(version, commit string) BuildInfo {
	info := BuildInfo{Version: version, Commit: commit, GoVersion: runtime.Version()}
	if info.Commit == "" || info.Commit == "dev" {
		info.Commit = vcsRevision(info.Commit)
	}

	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildMu.Lock()
	build = info
	buildMu.Unlock()
	buildInfo.Reset()
	buildInfo.WithLabelValues(info.Version, info.Commit, info.GoVersion).Set(1)
	return info
}

// Build returns what InitBuildInfo recorded.
func Build() BuildInfo {
	buildMu.RLock()
	defer buildMu.RUnlock()
	return build
}

func vcsRevision(fallback string) string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return fallback
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return s.Value
		}
	}
	return fallback
}
