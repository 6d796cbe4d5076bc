// Package deps reports the availability of the external tools the pipeline
// shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"conveyor/internal/config"
)

// Requirement defines an external tool a pipeline stage relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Requirement
	Available bool
	Detail    string
}

// ForConfig derives the tool requirements implied by the configuration.
// Transcription tools are only required when the sub-pipeline is enabled.
func ForConfig(cfg *config.Config) []Requirement {
	reqs := []Requirement{
		{
			Name:        "transcoder",
			Command:     cfg.Processing.TranscoderBin,
			Description: "media transcoder used by the process stage",
		},
	}
	if cfg.Transcription.Enabled {
		reqs = append(reqs, Requirement{
			Name:        "transcriber",
			Command:     cfg.Transcription.TranscriberBin,
			Description: "speech-to-text tool used by the transcribe stage",
		})
	}
	return reqs
}

// Check evaluates the requirements and reports availability.
func Check(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		status := Status{Requirement: req}
		status.Command = strings.TrimSpace(req.Command)
		switch {
		case status.Command == "":
			status.Detail = "command not configured"
		default:
			if _, err := exec.LookPath(status.Command); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", status.Command)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// Missing filters statuses down to the required tools that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status)
		}
	}
	return missing
}
