// Package repo reads and writes the desired-state configuration
// repository: one YAML file per entity, grouped into per-kind
// directories, each file keyed by the entity's name.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/gooddata/freeipa-manager-sub000/entities"
)

// kindDirs maps entity kinds to their repository subdirectories.
var kindDirs = map[entities.Kind]string{
	entities.KindUser:       "users",
	entities.KindGroup:      "groups",
	entities.KindHostGroup:  "hostgroups",
	entities.KindHBACRule:   "hbacrules",
	entities.KindSudoRule:   "sudorules",
	entities.KindRole:       "roles",
	entities.KindPrivilege:  "privileges",
	entities.KindPermission: "permissions",
	entities.KindService:    "services",
}

// Store is a desired-state repository rooted at one directory.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// PathFor derives the canonical file path for an entity: the kind
// directory plus the sanitized entity name.
func (s *Store) PathFor(kind entities.Kind, name string) string {
	return filepath.Join(s.baseDir, kindDirs[kind], sanitizeName(name)+".yaml")
}

// sanitizeName maps an entity name to a safe file name: lowercased,
// with anything outside [a-z0-9_-] replaced by a dash.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// Write persists one entity's repo form, keyed by its name.
func (s *Store) Write(path, name string, form map[string]any) error {
	data, err := yaml.Marshal(map[string]any{name: form})
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Delete removes one entity file.
func (s *Store) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// Load reads the whole repository into kind -> name -> entity maps.
// Each file may define one or more entities of its directory's kind; a
// name defined twice within a kind is a hard error. Structural (schema)
// validation of the YAML happens upstream; Load assumes well-shaped
// records and surfaces only semantic conversion errors.
func (s *Store) Load() (map[entities.Kind]map[string]*entities.Entity, error) {
	loaded := make(map[entities.Kind]map[string]*entities.Entity)

	for _, kind := range entities.Kinds() {
		loaded[kind] = make(map[string]*entities.Entity)
		dir := filepath.Join(s.baseDir, kindDirs[kind])

		paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
		sort.Strings(paths)

		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
			var records map[string]map[string]any
			if err := yaml.Unmarshal(data, &records); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}

			names := make([]string, 0, len(records))
			for name := range records {
				names = append(names, name)
			}
			sort.Strings(names)

			for _, name := range names {
				if existing, dup := loaded[kind][name]; dup {
					return nil, fmt.Errorf(
						"duplicate %s %s: defined in both %s and %s",
						kind, name, existing.SourcePath, path)
				}
				entity, err := entities.FromRepo(kind, name, records[name], path)
				if err != nil {
					return nil, err
				}
				loaded[kind][name] = entity
			}
		}
		log.Debug().Str("kind", string(kind)).Int("count", len(loaded[kind])).
			Msg("loaded desired entities")
	}

	return loaded, nil
}
