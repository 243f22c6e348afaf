package compose

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/SceneWorkbench/internal/authority"
)

const defaultCondition = string(authority.DefaultCondition)

// ErrSceneNotFound is returned when a scene directory has no compose file.
var ErrSceneNotFound = errors.New("scene not found")

// Repository reads and edits the compose files of every scene under Root.
// It implements authority.Definitions and authority.Catalog. Edits are
// read-modify-write cycles serialized by one lock.
type Repository struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	written map[string][sha256.Size]byte // scene -> hash of the last file written
}

// NewRepository returns a repository rooted at root. The directory is
// created on first write.
func NewRepository(root string, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		root:    root,
		logger:  logger.With("component", "compose"),
		written: make(map[string][sha256.Size]byte),
	}
}

// Root returns the scenes directory.
func (r *Repository) Root() string { return r.root }

func (r *Repository) sceneDir(scene string) string {
	return filepath.Join(r.root, scene)
}

// FilePath returns the compose file of scene.
func (r *Repository) FilePath(scene string) string {
	return filepath.Join(r.sceneDir(scene), FileName)
}

func (r *Repository) read(scene string) (*File, error) {
	if err := authority.ValidateSceneName(scene); err != nil {
		return nil, err
	}
	path := r.FilePath(scene)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSceneNotFound, scene)
		}
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return parseFile(b)
}

// write replaces the compose file through a temporary file and rename.
func (r *Repository) write(scene string, f *File) error {
	b, err := f.marshal()
	if err != nil {
		return err
	}
	dir := r.sceneDir(scene)
	tmp, err := os.CreateTemp(dir, ".docker-compose-*.yml")
	if err != nil {
		return fmt.Errorf("failed to write compose file for scene %s: %w", scene, err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write compose file for scene %s: %w", scene, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write compose file for scene %s: %w", scene, err)
	}
	if err := os.Rename(tmp.Name(), r.FilePath(scene)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write compose file for scene %s: %w", scene, err)
	}
	r.written[scene] = sha256.Sum256(b)
	return nil
}

// lastWritten reports whether b is exactly what the repository last wrote
// for scene.
func (r *Repository) lastWritten(scene string, b []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.written[scene]
	return ok && h == sha256.Sum256(b)
}

// edit runs fn on the parsed file of scene and writes the result when fn
// succeeds.
func (r *Repository) edit(scene string, fn func(*File) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.read(scene)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return r.write(scene, f)
}

// Scenes lists the scene directories.
func (r *Repository) Scenes(_ context.Context) ([]authority.Scene, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []authority.Scene{}, nil
		}
		return nil, fmt.Errorf("cannot read scenes list: %w", err)
	}
	scenes := make([]authority.Scene, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			scenes = append(scenes, authority.Scene{Name: e.Name()})
		}
	}
	return scenes, nil
}

// CreateScene makes a scene directory with an empty compose file.
func (r *Repository) CreateScene(_ context.Context, scene string) error {
	if err := authority.ValidateSceneName(scene); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.root, 0o755); err != nil {
		return fmt.Errorf("could not create scenes folder: %w", err)
	}
	if err := os.Mkdir(r.sceneDir(scene), 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &authority.ValidationError{Field: "scene name", Value: scene, Reason: "already exists"}
		}
		return fmt.Errorf("could not create scene folder %s: %w", scene, err)
	}
	return r.write(scene, &File{Services: map[string]*Service{}})
}

// DeleteScene removes a scene directory and everything in it.
func (r *Repository) DeleteScene(_ context.Context, scene string) error {
	if err := authority.ValidateSceneName(scene); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(r.sceneDir(scene)); err != nil {
		return fmt.Errorf("%w: %s", ErrSceneNotFound, scene)
	}
	if err := os.RemoveAll(r.sceneDir(scene)); err != nil {
		return fmt.Errorf("could not delete scene %s: %w", scene, err)
	}
	delete(r.written, scene)
	return nil
}

// includedScene resolves an include path, relative to the including scene,
// to the name of the scene directory holding the file.
func (r *Repository) includedScene(scene, path string) string {
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.sceneDir(scene), p)
	}
	return filepath.Base(filepath.Dir(filepath.Clean(p)))
}

// IncludedScenes lists the scenes scene includes, in file order.
func (r *Repository) IncludedScenes(_ context.Context, scene string) ([]authority.Scene, error) {
	f, err := r.read(scene)
	if err != nil {
		return nil, err
	}
	out := make([]authority.Scene, 0, len(f.Include))
	for _, inc := range f.Include {
		if inc.Path() == "" {
			continue
		}
		out = append(out, authority.Scene{Name: r.includedScene(scene, inc.Path())})
	}
	return out, nil
}

// SceneServices returns the services of scene followed by the services of
// every scene it includes, each tagged with the scene that defines it.
func (r *Repository) SceneServices(_ context.Context, scene string) ([]authority.Service, error) {
	return r.collect(scene, map[string]bool{})
}

func (r *Repository) collect(scene string, visiting map[string]bool) ([]authority.Service, error) {
	if visiting[scene] {
		return nil, nil
	}
	visiting[scene] = true

	f, err := r.read(scene)
	if err != nil {
		return nil, err
	}

	services := make([]authority.Service, 0, len(f.Services))
	for _, id := range f.ServiceIDs() {
		services = append(services, toAuthority(scene, id, f.Services[id]))
	}
	for _, inc := range f.Include {
		if inc.Path() == "" {
			continue
		}
		included, err := r.collect(r.includedScene(scene, inc.Path()), visiting)
		if err != nil {
			return nil, fmt.Errorf("failed to read included scene %s: %w", inc.Path(), err)
		}
		services = append(services, included...)
	}
	return services, nil
}

func toAuthority(scene, id string, svc *Service) authority.Service {
	out := authority.Service{
		ID:         id,
		Kind:       svc.Labels[TypeLabel],
		OwnerScene: scene,
		DependsOn:  make(map[string]authority.Dependency, len(svc.DependsOn)),
	}
	for dep, d := range svc.DependsOn {
		cond, err := authority.ParseCondition(d.Condition)
		if err != nil {
			cond = authority.DefaultCondition
		}
		out.DependsOn[dep] = authority.Dependency{Condition: cond}
	}
	return out
}

// ImportScene includes imported into scene. Service ids of both scenes
// must not overlap.
func (r *Repository) ImportScene(ctx context.Context, scene, imported string) error {
	if err := authority.ValidateSceneName(imported); err != nil {
		return err
	}
	if scene == imported {
		return &authority.ValidationError{Field: "scene name", Value: imported, Reason: "a scene cannot import itself"}
	}
	own, err := r.SceneServices(ctx, scene)
	if err != nil {
		return err
	}
	other, err := r.SceneServices(ctx, imported)
	if err != nil {
		return err
	}

	ids := make(map[string]bool, len(own))
	for _, s := range own {
		ids[s.ID] = true
	}
	var overlap []string
	for _, s := range other {
		if ids[s.ID] {
			overlap = append(overlap, s.ID)
		}
	}
	if len(overlap) > 0 {
		sort.Strings(overlap)
		return fmt.Errorf("cannot import scene %s because there are services with overlapping names: %s",
			imported, strings.Join(overlap, ", "))
	}

	return r.edit(scene, func(f *File) error {
		for _, inc := range f.Include {
			if r.includedScene(scene, inc.Path()) == imported {
				return fmt.Errorf("scene %s is already imported", imported)
			}
		}
		f.Include = append(f.Include, Include{
			Paths: []string{fmt.Sprintf("../%s/%s", imported, FileName)},
		})
		return nil
	})
}

// DetachScene removes every include of detached from scene.
func (r *Repository) DetachScene(_ context.Context, scene, detached string) error {
	return r.edit(scene, func(f *File) error {
		kept := f.Include[:0]
		for _, inc := range f.Include {
			if inc.Path() != "" && r.includedScene(scene, inc.Path()) == detached {
				continue
			}
			kept = append(kept, inc)
		}
		f.Include = kept
		return nil
	})
}

func service(f *File, id string) (*Service, error) {
	svc, ok := f.Services[id]
	if !ok {
		return nil, fmt.Errorf("cannot find service %s in %s", id, FileName)
	}
	return svc, nil
}

// CreateDependency makes target depend on source with the default
// condition.
func (r *Repository) CreateDependency(_ context.Context, scene, source, target string) error {
	return r.edit(scene, func(f *File) error {
		svc, err := service(f, target)
		if err != nil {
			return err
		}
		if source == target {
			return fmt.Errorf("service %s cannot depend on itself", target)
		}
		if _, ok := svc.DependsOn[source]; ok {
			return fmt.Errorf("service %s already depends on %s", target, source)
		}
		if svc.DependsOn == nil {
			svc.DependsOn = DependsOn{}
		}
		svc.DependsOn[source] = &Dependency{Condition: defaultCondition}
		return nil
	})
}

// DeleteDependency removes source from the dependencies of target.
func (r *Repository) DeleteDependency(_ context.Context, scene, source, target string) error {
	return r.edit(scene, func(f *File) error {
		svc, err := service(f, target)
		if err != nil {
			return err
		}
		if _, ok := svc.DependsOn[source]; !ok {
			return fmt.Errorf("service %s does not depend on %s", target, source)
		}
		delete(svc.DependsOn, source)
		return nil
	})
}

// SetDependencyCondition changes the condition of target's dependency on
// source.
func (r *Repository) SetDependencyCondition(_ context.Context, scene, source, target string, condition authority.Condition) error {
	cond, err := authority.ParseCondition(string(condition))
	if err != nil {
		return err
	}
	return r.edit(scene, func(f *File) error {
		svc, err := service(f, target)
		if err != nil {
			return err
		}
		dep, ok := svc.DependsOn[source]
		if !ok {
			return fmt.Errorf("service %s does not depend on %s", target, source)
		}
		dep.Condition = string(cond)
		return nil
	})
}

// DeleteService removes a service definition.
func (r *Repository) DeleteService(_ context.Context, scene, serviceID string) error {
	return r.edit(scene, func(f *File) error {
		if _, err := service(f, serviceID); err != nil {
			return err
		}
		delete(f.Services, serviceID)
		return nil
	})
}

// Service returns the YAML definition of one service.
func (r *Repository) Service(_ context.Context, scene, serviceID string) (string, error) {
	f, err := r.read(scene)
	if err != nil {
		return "", err
	}
	svc, err := service(f, serviceID)
	if err != nil {
		return "", err
	}
	b, err := yaml.Marshal(svc)
	if err != nil {
		return "", fmt.Errorf("failed to encode service %s: %w", serviceID, err)
	}
	return string(b), nil
}

func parseService(id, payload string) (*Service, error) {
	var svc Service
	if strings.TrimSpace(payload) != "" {
		if err := yaml.Unmarshal([]byte(payload), &svc); err != nil {
			return nil, fmt.Errorf("invalid format for service %s configuration: %w", id, err)
		}
	}
	return &svc, nil
}

// CreateService adds a service from its YAML definition.
func (r *Repository) CreateService(_ context.Context, scene, serviceID, payload string) error {
	if err := authority.ValidateServiceID(serviceID); err != nil {
		return err
	}
	svc, err := parseService(serviceID, payload)
	if err != nil {
		return err
	}
	return r.edit(scene, func(f *File) error {
		if _, ok := f.Services[serviceID]; ok {
			return fmt.Errorf("service with id %s already exists", serviceID)
		}
		f.Services[serviceID] = svc
		return nil
	})
}

// UpdateService replaces previousID with serviceID and its new definition.
// Dependencies of other services on a renamed service follow the rename.
func (r *Repository) UpdateService(_ context.Context, scene, previousID, serviceID, payload string) error {
	if err := authority.ValidateServiceID(serviceID); err != nil {
		return err
	}
	svc, err := parseService(serviceID, payload)
	if err != nil {
		return err
	}
	return r.edit(scene, func(f *File) error {
		if _, err := service(f, previousID); err != nil {
			return err
		}
		if serviceID != previousID {
			if _, ok := f.Services[serviceID]; ok {
				return fmt.Errorf("service with id %s already exists", serviceID)
			}
			for _, other := range f.Services {
				if dep, ok := other.DependsOn[previousID]; ok {
					delete(other.DependsOn, previousID)
					other.DependsOn[serviceID] = dep
				}
			}
		}
		delete(f.Services, previousID)
		f.Services[serviceID] = svc
		return nil
	})
}
