package fit

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Weight and budget keys understood by Config.
const (
	// KeyLR scales the initial line-search step of each L-BFGS iteration.
	KeyLR = "lr"
	// KeyMaxIter bounds the major iterations of one optimizer step.
	KeyMaxIter = "max_iter"
	// KeyNumSteps is the number of outer optimizer steps per batch.
	KeyNumSteps = "num_steps"
	// KeyRotOnly selects rotation-only mode when non-zero: only the global
	// orientation channels are free and the forward model sees zeros for
	// every other channel.
	KeyRotOnly = "rot_only"
	// KeyLVerts weights the masked vertex term.
	KeyLVerts = "l_verts"
	// KeyLVertsLoose weights the unmasked vertex term.
	KeyLVertsLoose = "l_verts_loose"
	// KeyLTimeLoss weights the temporal smoothness term.
	KeyLTimeLoss = "l_time_loss"
	// KeyLJoint weights the anatomical joint term.
	KeyLJoint = "l_joint"
	// KeyLScapula weights the scapula channel regularizer.
	KeyLScapula = "l_scapula_loss"
	// KeyLSpine weights the spine channel regularizer.
	KeyLSpine = "l_spine_loss"
	// KeyLPose weights the pose magnitude prior.
	KeyLPose = "l_pose_loss"
	// KeyPoseRegFactor multiplies all three anatomical regularizers.
	KeyPoseRegFactor = "pose_reg_factor"
)

// Config holds optimizer budgets and loss weights as a key-value map.
// Presets are ordinary maps, so callers may tweak individual entries before
// handing them to the fitter.
type Config map[string]float64

// WarmStart returns the rotation-only global alignment preset used for the
// first batch when no initialization is supplied.
func WarmStart() Config {
	return Config{
		KeyLR:            1,
		KeyMaxIter:       25,
		KeyNumSteps:      10,
		KeyRotOnly:       1,
		KeyLVerts:        0.1,
		KeyLVertsLoose:   0,
		KeyLTimeLoss:     1e-2,
		KeyLJoint:        0,
		KeyLScapula:      0,
		KeyLSpine:        0,
		KeyLPose:         0,
		KeyPoseRegFactor: 1e1,
	}
}

// Refine returns the full-pose refinement overrides. The preset is partial:
// merging it onto WarmStart keeps the warm vertex and temporal weights.
func Refine() Config {
	return Config{
		KeyLR:            0.1,
		KeyMaxIter:       10,
		KeyNumSteps:      10,
		KeyRotOnly:       0,
		KeyLVertsLoose:   5e2,
		KeyLJoint:        1e2,
		KeyLScapula:      1e-2,
		KeyLSpine:        1e-3,
		KeyLPose:         1e-4,
		KeyPoseRegFactor: 1e1,
	}
}

// Merge returns a new Config with other's entries layered over c. Neither
// input is modified.
//
// Arguments:
//   - other: Entries that take precedence over c.
//
// Returns:
//   - Config: A freshly allocated merged map.
func (c Config) Merge(other Config) Config {
	merged := make(Config, len(c)+len(other))
	for k, v := range c {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// Clone returns a copy of the map.
func (c Config) Clone() Config {
	return Config{}.Merge(c)
}

// Weight returns the value for key, or zero when the key is absent. Absent
// loss weights disable their term.
func (c Config) Weight(key string) float64 {
	return c[key]
}

// LR returns the line-search step scale, defaulting to 1.
func (c Config) LR() float64 {
	if v, ok := c[KeyLR]; ok && v > 0 {
		return v
	}
	return 1
}

// MaxIter returns the major iteration budget per step, at least 1.
func (c Config) MaxIter() int {
	if v, ok := c[KeyMaxIter]; ok && v >= 1 {
		return int(v)
	}
	return 1
}

// NumSteps returns the outer step count, at least 1.
func (c Config) NumSteps() int {
	if v, ok := c[KeyNumSteps]; ok && v >= 1 {
		return int(v)
	}
	return 1
}

// RotOnly reports whether rotation-only mode is selected.
func (c Config) RotOnly() bool {
	return c[KeyRotOnly] != 0
}

// Save writes the config to a JSON file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write config file")
	}
	return nil
}

// LoadConfig reads a JSON weight map from disk.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	return c, nil
}
