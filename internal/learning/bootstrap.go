package learning

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SeedBootstrap seeds the active model slot from a precompiled weights file
// on first init, per the ONLINE_RANKER_BOOTSTRAP_DIR contract: a no-op when
// an active model already exists, when bootstrapDir is unset, or when it
// holds no usable weights.json. The bootstrap file is also copied to
// bootstrap/weights.json under the model root; seeding itself reads only
// bootstrapDir, never that copy.
func (r *Ranker) SeedBootstrap(bootstrapDir string) error {
	if bootstrapDir == "" {
		return nil
	}
	if _, err := os.Stat(r.activePath); err == nil {
		return nil
	}

	src := filepath.Join(bootstrapDir, "weights.json")
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("learning: read bootstrap model: %w", err)
	}

	var w weights
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("learning: decode bootstrap model: %w", err)
	}
	if len(w.W) == 0 {
		return nil
	}
	w.Valid = true
	if w.Version == "" {
		w.Version = "bootstrap"
	}

	bootstrapCopy := filepath.Join(filepath.Dir(filepath.Dir(r.activePath)), "bootstrap", "weights.json")
	if err := r.save(w, bootstrapCopy); err != nil {
		return err
	}
	return r.save(w, r.activePath)
}

// SeedBootstrap exposes the ranker-level seeding on the engine, called once
// at process start before Initialize.
func (e *Engine) SeedBootstrap(bootstrapDir string) error {
	return e.ranker.SeedBootstrap(bootstrapDir)
}
