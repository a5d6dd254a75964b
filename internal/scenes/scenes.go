// Package scenes lists the 3D scenes available to simulation jobs. Scene
// assets themselves are served by a separate static file host; this
// package only reports what exists on disk.
package scenes

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Scene describes one renderable scene folder.
type Scene struct {
	Name    string `json:"name"`
	Folder  string `json:"folder"`
	GLBFile string `json:"glb_file"`
	Path    string `json:"path"`
}

// Lister scans a models directory for scene folders.
type Lister struct {
	dir string
}

// NewLister creates a lister over the given models directory.
func NewLister(dir string) *Lister {
	return &Lister{dir: dir}
}

// List returns every subfolder that contains a .glb file, sorted by name.
// A missing models directory yields an empty list, not an error: fresh
// deployments start with no scenes installed.
func (l *Lister) List() ([]Scene, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Scene{}, nil
		}
		return nil, fmt.Errorf("failed to read models directory: %w", err)
	}

	scenes := make([]Scene, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		glb, err := firstGLB(filepath.Join(l.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if glb == "" {
			continue
		}
		scenes = append(scenes, Scene{
			Name:    entry.Name(),
			Folder:  entry.Name(),
			GLBFile: glb,
			Path:    "/3d_models/" + entry.Name() + "/" + glb,
		})
	}

	sort.Slice(scenes, func(i, j int) bool { return scenes[i].Name < scenes[j].Name })
	return scenes, nil
}

func firstGLB(dir string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read scene folder %s: %w", dir, err)
	}
	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".glb") {
			return f.Name(), nil
		}
	}
	return "", nil
}
