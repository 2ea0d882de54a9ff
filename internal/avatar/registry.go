package avatar

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/qmuntal/gltf"
	"github.com/rs/zerolog"
)

// Asset describes one avatar rig discovered from a glTF file: which
// parameters its meshes expose and which one-shot motions it ships.
type Asset struct {
	Name    string
	Path    string
	Params  []string
	Motions []string
}

// HasParam reports whether the asset exposes the named parameter.
func (a Asset) HasParam(name string) bool {
	for _, p := range a.Params {
		if p == name {
			return true
		}
	}
	return false
}

// defaultParams is assumed for assets whose glTF carries no target names.
var defaultParams = []string{
	ParamMouthOpen, ParamMouthForm, ParamEyeOpen,
	ParamEyeBallX, ParamEyeBallY,
	ParamHeadYaw, ParamHeadTilt, ParamBodySway, ParamBreath,
}

// DefaultAsset returns a synthetic asset exposing the standard parameter
// and motion set, used when no rig file is available for the configured
// name.
func DefaultAsset(name string) Asset {
	return Asset{
		Name:    name,
		Params:  append([]string(nil), defaultParams...),
		Motions: []string{MotionIdle, MotionSpeak, MotionTapBody},
	}
}

// Registry holds the known avatar assets by name.
type Registry struct {
	mu     sync.RWMutex
	assets map[string]Asset
	log    zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		assets: make(map[string]Asset),
		log:    log.With().Str("component", "avatar-registry").Logger(),
	}
}

// Register adds or replaces an asset entry.
func (r *Registry) Register(a Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assets[a.Name] = a
}

// Get returns the named asset.
func (r *Registry) Get(name string) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[name]
	return a, ok
}

// LoadDir scans a directory for glTF assets and registers each one under
// its file stem.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read asset dir: %w", err)
	}

	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".glb" && ext != ".gltf") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		asset, err := LoadAsset(name, filepath.Join(dir, e.Name()))
		if err != nil {
			r.log.Warn().Err(err).Str("file", e.Name()).Msg("Skipping unreadable avatar asset")
			continue
		}
		r.Register(asset)
		r.log.Info().
			Str("asset", name).
			Int("params", len(asset.Params)).
			Int("motions", len(asset.Motions)).
			Msg("Avatar asset registered")
	}
	return nil
}

// LoadAsset reads one glTF file and discovers its parameter and motion
// names. Morph target names come from the mesh extras; animation names
// become motion groups.
func LoadAsset(name, path string) (Asset, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return Asset{}, fmt.Errorf("open gltf: %w", err)
	}

	asset := Asset{Name: name, Path: path}

	seen := make(map[string]struct{})
	for _, mesh := range doc.Meshes {
		extras, ok := mesh.Extras.(map[string]interface{})
		if !ok {
			continue
		}
		targetNames, ok := extras["targetNames"].([]interface{})
		if !ok {
			continue
		}
		for _, n := range targetNames {
			s, ok := n.(string)
			if !ok {
				continue
			}
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			asset.Params = append(asset.Params, s)
		}
	}
	if len(asset.Params) == 0 {
		asset.Params = append(asset.Params, defaultParams...)
	}

	for _, anim := range doc.Animations {
		if anim.Name != "" {
			asset.Motions = append(asset.Motions, anim.Name)
		}
	}
	if len(asset.Motions) == 0 {
		asset.Motions = []string{MotionIdle, MotionSpeak, MotionTapBody}
	}

	return asset, nil
}
