package reconcile

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gooddata/freeipa-manager-sub000/entities"
)

// Repository is the desired-state file store the pull direction writes
// into.
type Repository interface {
	// PathFor derives the canonical file path for a new entity.
	PathFor(kind entities.Kind, name string) string
	// Write persists one entity's repo form at the given path.
	Write(path, name string, form map[string]any) error
	// Delete removes one entity's file.
	Delete(path string) error
}

type pullWrite struct {
	entity *entities.Entity
	path   string
	form   map[string]any
	reason string
}

// Pull writes the directory's actual entities back into repository
// form. Everything is computed (including every target path) before the
// first write, so a late collision cannot leave the repository half
// written. Unless addOnly is set, desired entities absent from the
// directory are deleted. With execute false the planned writes and
// deletes are only logged.
func (e *Engine) Pull(ctx context.Context, repo Repository, addOnly, execute bool) error {
	if err := e.loadActual(ctx); err != nil {
		return err
	}

	total := 0
	if e.recorder != nil {
		e.recorder.RunStarted(ctx, "pull", !execute)
		defer func() { e.recorder.RunFinished(ctx, total, 0, 0) }()
	}

	usedPaths := make(map[string]string)
	for _, kind := range e.policy.PullKinds {
		for _, entity := range e.sortedDesired(kind) {
			if entity.SourcePath != "" {
				usedPaths[entity.SourcePath] = entity.ID()
			}
		}
	}

	var writes []pullWrite
	for _, kind := range e.policy.PullKinds {
		desc, _ := entities.Describe(kind)
		for _, actual := range e.sortedActual(kind) {
			form := e.pullForm(actual)
			counterpart := e.desired[kind][actual.Name]

			if counterpart != nil {
				if counterpart.Metaparams != nil {
					form["metaparams"] = counterpart.Metaparams
				}
				// Defaults are stripped from both sides: an authored
				// attribute spelled out at its default value is still
				// converged.
				if repoFormsEqual(form, stripDefaults(desc, counterpart.RepoAttrs), counterpart.Metaparams) {
					continue
				}
			}

			path := ""
			if counterpart != nil {
				path = counterpart.SourcePath
			}
			if path == "" {
				path = repo.PathFor(kind, actual.Name)
				if owner, taken := usedPaths[path]; taken {
					return fmt.Errorf(
						"path collision: %s for %s is already used by %s", path, actual.ID(), owner)
				}
				usedPaths[path] = actual.ID()
				actual.SourcePath = path
			}

			reason := "changed"
			if counterpart == nil {
				reason = "new"
			}
			writes = append(writes, pullWrite{entity: actual, path: path, form: form, reason: reason})
		}
	}

	var deletions []*entities.Entity
	if !addOnly {
		for _, kind := range e.policy.PullKinds {
			for _, desired := range e.sortedDesired(kind) {
				if _, present := e.actual[kind][desired.Name]; present {
					continue
				}
				if desired.SourcePath == "" {
					continue
				}
				deletions = append(deletions, desired)
			}
		}
	}

	total = len(writes) + len(deletions)

	if !execute {
		for _, write := range writes {
			log.Info().Str("entity", write.entity.ID()).Str("path", write.path).
				Str("reason", write.reason).Msg("would write")
		}
		for _, stale := range deletions {
			log.Info().Str("entity", stale.ID()).Str("path", stale.SourcePath).
				Msg("would delete")
		}
		log.Info().Int("writes", len(writes)).Int("deletions", len(deletions)).
			Msg("pull dry run finished")
		return nil
	}

	for _, write := range writes {
		if err := repo.Write(write.path, write.entity.Name, write.form); err != nil {
			return fmt.Errorf("writing %s: %w", write.entity.ID(), err)
		}
		log.Info().Str("entity", write.entity.ID()).Str("path", write.path).
			Str("reason", write.reason).Msg("written")
	}
	for _, stale := range deletions {
		if err := repo.Delete(stale.SourcePath); err != nil {
			return fmt.Errorf("deleting %s: %w", stale.ID(), err)
		}
		log.Info().Str("entity", stale.ID()).Str("path", stale.SourcePath).Msg("deleted")
	}
	log.Info().Int("writes", len(writes)).Int("deletions", len(deletions)).Msg("pull finished")
	return nil
}

// pullForm builds the repo form of an actual entity: pulled attributes
// plus the membership relation reconstructed from actual state.
func (e *Engine) pullForm(entity *entities.Entity) map[string]any {
	desc, _ := entities.Describe(entity.Kind)
	form := entity.ToRepo()

	if desc.IsRule() {
		for _, cat := range desc.RuleMembers {
			if members := entity.RuleMembers[cat.Category]; len(members) > 0 {
				sorted := append([]string(nil), members...)
				sort.Strings(sorted)
				form[cat.RepoKey] = sorted
			}
		}
		if desc.HasOptions && len(entity.Options) > 0 {
			options := append([]string(nil), entity.Options...)
			sort.Strings(options)
			form["options"] = options
		}
	} else {
		memberOf := make(map[string]any)
		for _, targetKind := range entities.Kinds() {
			targetDesc, _ := entities.Describe(targetKind)
			if _, ok := targetDesc.MemberVerbs[entity.Kind]; !ok {
				continue
			}
			var names []string
			for _, target := range e.sortedActual(targetKind) {
				if target.ListsMember(entity) {
					names = append(names, target.Name)
				}
			}
			if len(names) > 0 {
				memberOf[string(targetKind)] = names
			}
		}
		if len(memberOf) > 0 {
			form["memberOf"] = memberOf
		}
	}

	if entity.Kind == entities.KindGroup && !entity.Posix {
		form["posix"] = false
	}

	return stripDefaults(desc, form)
}

// stripDefaults returns a copy of the form without attributes equal to
// the kind's declared defaults; those stay out of config files.
func stripDefaults(desc *entities.Descriptor, form map[string]any) map[string]any {
	out := make(map[string]any, len(form))
	for key, value := range form {
		if def, ok := desc.DefaultAttrs[key]; ok && fmt.Sprintf("%v", value) == fmt.Sprintf("%v", def) {
			continue
		}
		out[key] = value
	}
	return out
}

// repoFormsEqual compares a pulled repo form against the authored one,
// tolerating the scalar-versus-one-element-list and ordering freedoms
// of the repo format.
func repoFormsEqual(pulled, authored map[string]any, metaparams map[string]any) bool {
	authoredFull := make(map[string]any, len(authored)+1)
	for k, v := range authored {
		authoredFull[k] = v
	}
	if metaparams != nil {
		authoredFull["metaparams"] = metaparams
	}
	return reflect.DeepEqual(normalizeForm(pulled), normalizeForm(authoredFull))
}

func normalizeForm(form map[string]any) map[string]any {
	out := make(map[string]any, len(form))
	for key, value := range form {
		if strings.EqualFold(key, "memberOf") {
			key = "memberOf"
		}
		out[key] = normalizeValue(value)
	}
	return out
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return normalizeForm(v)
	case map[string][]string:
		converted := make(map[string]any, len(v))
		for k, list := range v {
			converted[k] = list
		}
		return normalizeForm(converted)
	case []string:
		sorted := append([]string(nil), v...)
		sort.Strings(sorted)
		return sorted
	case []any:
		sorted := make([]string, 0, len(v))
		for _, item := range v {
			sorted = append(sorted, fmt.Sprintf("%v", item))
		}
		sort.Strings(sorted)
		return sorted
	case bool:
		return []string{fmt.Sprintf("%v", v)}
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}
