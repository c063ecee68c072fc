// Package project implements the project resolver: it turns a caller's
// project selection into a concrete collection name and an effective
// Config, enforcing that one precedence level fully shadows the next
// rather than merging with it.
package project

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/bao243092078-crypto/memory-anchor/internal/config"
)

const (
	// EnvProjectID overrides the project id outright, highest precedence.
	EnvProjectID = "MA_PROJECT_ID"

	// projectLocalFile is looked up relative to the working directory.
	projectLocalFile = ".memory-anchor.json"

	globalFileEnv = "MA_GLOBAL_CONFIG"
)

// fileOverrides is the subset of Config fields a project-local or global
// config file may shadow. Fields not present in the JSON are left nil and
// keep base's value; they are never filled from a lower level — see Resolve.
type fileOverrides struct {
	ProjectID      *string                  `json:"project_id,omitempty"`
	EmbedderModel  *string                  `json:"embedder_model,omitempty"`
	VectorDim      *int                     `json:"vector_dim,omitempty"`
	MinSearchScore *float64                 `json:"min_search_score,omitempty"`
	SessionExpireH *int                     `json:"session_expire_hours,omitempty"`
	Confidence     *config.ConfidenceConfig `json:"confidence,omitempty"`
	Budget         *config.BudgetConfig     `json:"budget,omitempty"`
	Safety         *config.SafetyConfig     `json:"safety,omitempty"`
}

// Resolve determines the effective project id down the precedence chain —
// environment override, then a project-local config file, then a global
// config file, then base's ProjectID as the literal default — and returns a
// Config with that one level's fields substituted wholesale into base.
// Resolve never merges across levels: the environment level sets only the
// project id, and the first config file that exists and parses supplies
// every override field it carries, whether or not it names a project id.
// Fields it omits keep base's value; lower levels are not read.
func Resolve(base config.Config, workDir string) config.Config {
	if id, ok := os.LookupEnv(EnvProjectID); ok && id != "" {
		base.ProjectID = id
		return base
	}

	if ov, ok := readOverrides(filepath.Join(workDir, projectLocalFile)); ok {
		return applyOverrides(base, ov)
	}

	if globalPath := globalConfigPath(); globalPath != "" {
		if ov, ok := readOverrides(globalPath); ok {
			return applyOverrides(base, ov)
		}
	}

	return base
}

func globalConfigPath() string {
	if p := os.Getenv(globalFileEnv); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "memory-anchor", "config.json")
}

func readOverrides(path string) (fileOverrides, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileOverrides{}, false
	}
	var ov fileOverrides
	if err := json.Unmarshal(data, &ov); err != nil {
		log.Warn("project resolver: ignoring malformed config file", "path", path, "err", err)
		return fileOverrides{}, false
	}
	return ov, true
}

func applyOverrides(base config.Config, ov fileOverrides) config.Config {
	if ov.ProjectID != nil {
		base.ProjectID = *ov.ProjectID
	}
	if ov.EmbedderModel != nil {
		base.EmbedderModel = *ov.EmbedderModel
	}
	if ov.VectorDim != nil {
		base.VectorDim = *ov.VectorDim
	}
	if ov.MinSearchScore != nil {
		base.MinSearchScore = *ov.MinSearchScore
	}
	if ov.SessionExpireH != nil {
		base.SessionExpireHours = *ov.SessionExpireH
	}
	if ov.Confidence != nil {
		base.Confidence = *ov.Confidence
	}
	if ov.Budget != nil {
		base.Budget = *ov.Budget
	}
	if ov.Safety != nil {
		base.Safety = *ov.Safety
	}
	return base
}
