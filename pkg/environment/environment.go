// Package environment prepares the process environment read by the external
// neuroimaging toolkits.
package environment

import (
	"fmt"
	"log/slog"
	"os"
)

// Var is one environment assignment.
type Var struct {
	Key   string
	Value string
}

// Vars returns the assignments applied by Apply, in order. FSL and the FSF
// tooling both default to uncompressed output without them.
func Vars() []Var {
	return []Var{
		{Key: "FSLOUTPUTTYPE", Value: "NIFTI_GZ"},
		{Key: "FSF_OUTPUT_FORMAT", Value: "nii.gz"},
	}
}

// Apply sets the toolkit output-format variables for this process and every
// child it spawns afterwards. Calling it again re-sets identical values.
func Apply(log *slog.Logger) error {
	for _, v := range Vars() {
		if err := os.Setenv(v.Key, v.Value); err != nil {
			return fmt.Errorf("setting %s: %w", v.Key, err)
		}
		log.Debug("environment set", "key", v.Key, "value", v.Value)
	}
	return nil
}
