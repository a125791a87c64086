package version

// Version is stamped at build time via -ldflags "-X .../version.Version=...".
var Version = "dev"

type Info struct {
	Version string `json:"version"`
}

func Load() Info {
	return Info{Version: Version}
}
