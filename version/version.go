package version

import "fmt"

var (
	Version = "0.3"
	GitHash = "devXXXX"
	BuildTS = "2026-01-01T00:00:00Z" // to be replaced at build time
	Branch  = "master"
	Tool    = "pdtbutler"
	Agent   = Tool + "/" + Version
)

type VersionConfig struct {
	Version string `yaml:"version"`
	GitHash string `yaml:"githash"`
	BuildTS string `yaml:"buildts"`
	Branch  string `yaml:"branch"`
	Agent   string `yaml:"agent"`
}

var versionconfig = VersionConfig{
	Version: Version,
	GitHash: GitHash,
	BuildTS: BuildTS,
	Branch:  Branch,
	Agent:   Agent,
}

func GetVersionConfig() VersionConfig {
	return versionconfig
}

func (v VersionConfig) String() string {
	return fmt.Sprintf("%s %s (%s, %s) built %s", Tool, v.Version, v.Branch, v.GitHash, v.BuildTS)
}
