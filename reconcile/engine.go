// Package reconcile computes and applies the minimal command set that
// converges a FreeIPA directory with the desired state authored in the
// configuration repository. Push mutates the directory, pull writes the
// directory's content back into repository form; both share the
// actual-state loading pass.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gooddata/freeipa-manager-sub000/command"
	"github.com/gooddata/freeipa-manager-sub000/config"
	"github.com/gooddata/freeipa-manager-sub000/entities"
	"github.com/gooddata/freeipa-manager-sub000/freeipa"
)

// EntitySet is the desired or actual state, keyed kind -> name ->
// entity.
type EntitySet = map[entities.Kind]map[string]*entities.Entity

// Recorder receives run and command outcomes for the audit trail. All
// methods are best-effort; implementations must never fail the run.
type Recorder interface {
	RunStarted(ctx context.Context, direction string, dryRun bool)
	CommandResult(ctx context.Context, cmd *command.Command, execErr error)
	RunFinished(ctx context.Context, total, failed int, ratio float64)
}

// Source loads the directory's actual entities for one kind. The
// default source issues <kind>_find against the API; the LDAP source
// implements the same contract directly against the backing directory.
type Source interface {
	FindAll(ctx context.Context, kind entities.Kind) ([]*entities.Entity, error)
}

// Engine reconciles desired state against one FreeIPA deployment. It is
// single-threaded on purpose: directory mutations are order-sensitive
// and the command ordering is the only concurrency control.
type Engine struct {
	client   freeipa.Client
	source   Source
	policy   *config.Policy
	desired  EntitySet
	recorder Recorder

	actual      EntitySet
	actualCount int
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder attaches an audit recorder.
func WithRecorder(recorder Recorder) Option {
	return func(e *Engine) { e.recorder = recorder }
}

// WithSource replaces the default RPC find-all source, typically with
// the direct LDAP source for large deployments.
func WithSource(source Source) Option {
	return func(e *Engine) { e.source = source }
}

// NewEngine builds an engine over an already validated desired state.
func NewEngine(client freeipa.Client, policy *config.Policy, desired EntitySet, opts ...Option) *Engine {
	engine := &Engine{
		client:  client,
		policy:  policy,
		desired: desired,
	}
	for _, opt := range opts {
		opt(engine)
	}
	if engine.source == nil {
		engine.source = &rpcSource{client: client}
	}
	return engine
}

// rpcSource loads actual entities with per-kind find commands.
type rpcSource struct {
	client freeipa.Client
}

func (s *rpcSource) FindAll(ctx context.Context, kind entities.Kind) ([]*entities.Entity, error) {
	response, err := s.client.Invoke(ctx, string(kind)+"_find", map[string]any{
		"all":       true,
		"sizelimit": 0,
	})
	if err != nil {
		return nil, err
	}
	loaded := make([]*entities.Entity, 0, len(response.Result))
	for _, record := range response.Result {
		entity, err := entities.FromDirectory(kind, record)
		if err != nil {
			return nil, err
		}
		loaded = append(loaded, entity)
	}
	return loaded, nil
}

// loadActual queries every kind, drops ignored names and indexes the
// rest by identifying attribute. An unrecognized find command aborts
// immediately; any other per-kind failure is collected and reported as
// one aggregate error naming the failing kinds.
func (e *Engine) loadActual(ctx context.Context) error {
	e.actual = make(EntitySet)
	e.actualCount = 0

	var failures []string
	for _, kind := range entities.Kinds() {
		loaded, err := e.source.FindAll(ctx, kind)
		if err != nil {
			if freeipa.IsUnknownCommand(err) {
				return fmt.Errorf("loading %s entities: %w", kind, err)
			}
			failures = append(failures, fmt.Sprintf("%s: %v", kind, err))
			continue
		}

		byName := make(map[string]*entities.Entity, len(loaded))
		for _, entity := range loaded {
			if e.policy.IgnoredName(kind, entity.Name) {
				log.Debug().Str("kind", string(kind)).Str("name", entity.Name).
					Msg("ignoring actual entity")
				continue
			}
			byName[entity.Name] = entity
			e.actualCount++
		}
		e.actual[kind] = byName
		log.Debug().Str("kind", string(kind)).Int("count", len(byName)).
			Msg("loaded actual entities")
	}

	if len(failures) > 0 {
		return fmt.Errorf("loading actual state failed for %d kinds:\n%s",
			len(failures), strings.Join(failures, "\n"))
	}
	return nil
}

// thresholdRatio computes the change ratio for the safety check. An
// empty directory counts as 100% regardless of the command count; the
// threshold must protect a fresh deployment from being treated as
// zero-risk.
func thresholdRatio(commandCount, actualCount int) float64 {
	if actualCount == 0 {
		return 100
	}
	ratio := 100 * float64(commandCount) / float64(actualCount)
	if ratio > 100 {
		return 100
	}
	return ratio
}

// sortedDesired returns one kind's desired entities in name order.
func (e *Engine) sortedDesired(kind entities.Kind) []*entities.Entity {
	byName := e.desired[kind]
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*entities.Entity, 0, len(names))
	for _, name := range names {
		out = append(out, byName[name])
	}
	return out
}

// sortedActual returns one kind's actual entities in name order.
func (e *Engine) sortedActual(kind entities.Kind) []*entities.Entity {
	byName := e.actual[kind]
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*entities.Entity, 0, len(names))
	for _, name := range names {
		out = append(out, byName[name])
	}
	return out
}
