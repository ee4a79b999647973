package handlers

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"

	"github.com/fluentlens/fluentlens/internal/config"
)

type buildInfo struct {
	version   string
	commit    string
	buildDate string
}

var (
	buildMu   sync.RWMutex
	build     = buildInfo{version: "dev", commit: "unknown", buildDate: "unknown"}
	startedAt = time.Now()
)

// SetVersionInfo records build metadata injected at link time.
func SetVersionInfo(version, commit, buildDate string) {
	buildMu.Lock()
	defer buildMu.Unlock()
	build = buildInfo{version: version, commit: commit, buildDate: buildDate}
}

func currentBuild() buildInfo {
	buildMu.RLock()
	defer buildMu.RUnlock()
	return build
}

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	App          AppInfo     `json:"app"`
	Backends     BackendInfo `json:"backends"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
}

type AppInfo struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// BackendInfo names the storage drivers the process was configured with.
type BackendInfo struct {
	Store string `json:"store,omitempty"`
	Cache string `json:"cache,omitempty"`
}

type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

type RuntimeInfo struct {
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// VersionHandler reports build metadata, configured backends and runtime stats.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	b := currentBuild()
	deps := crucible.GetVersion()

	var backends BackendInfo
	if cfg := config.GetConfig(); cfg != nil {
		backends = BackendInfo{Store: cfg.Store.Driver, Cache: cfg.Cache.Driver}
	}

	writeJSON(w, http.StatusOK, VersionResponse{
		App: AppInfo{
			Name:      config.AppName,
			Version:   b.version,
			Commit:    b.commit,
			BuildDate: b.buildDate,
			GoVersion: runtime.Version(),
		},
		Backends: backends,
		Dependencies: DepInfo{
			Gofulmen: deps.Gofulmen,
			Crucible: deps.Crucible,
		},
		Runtime: RuntimeInfo{
			Platform:      runtime.GOOS + "/" + runtime.GOARCH,
			NumCPU:        runtime.NumCPU(),
			NumGoroutines: runtime.NumGoroutine(),
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		},
	})
}
