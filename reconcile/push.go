package reconcile

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gooddata/freeipa-manager-sub000/command"
	"github.com/gooddata/freeipa-manager-sub000/entities"
)

// ThresholdError is the safety abort: the computed change ratio
// exceeded the configured maximum before anything executed.
type ThresholdError struct {
	Ratio     float64
	Threshold int
	Commands  int
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf(
		"%d commands would change %.1f%% of the directory, above the %d%% threshold",
		e.Commands, e.Ratio, e.Threshold)
}

// Push converges the directory towards the desired state. With execute
// false it reports the sorted command queue and stops; with execute
// true it runs every command in order, accumulating per-command
// failures and failing the run as a whole if any command failed.
func (e *Engine) Push(ctx context.Context, execute bool) error {
	if err := e.loadActual(ctx); err != nil {
		return err
	}

	commands := e.membershipCommands()
	commands = append(commands, e.entityCommands()...)
	commands = append(commands, e.deletionCommands()...)
	commands = e.filterDeletionVerbs(commands)
	command.Sort(commands)

	ratio := thresholdRatio(len(commands), e.actualCount)
	failed := 0
	if e.recorder != nil {
		e.recorder.RunStarted(ctx, "push", !execute)
		defer func() {
			e.recorder.RunFinished(ctx, len(commands), failed, ratio)
		}()
	}

	if ratio > float64(e.policy.Threshold) {
		// Still report the full queue so the violation can be diagnosed
		// without lowering the threshold.
		for _, cmd := range commands {
			log.Warn().Str("command", cmd.Description()).Msg("blocked by threshold")
		}
		return &ThresholdError{Ratio: ratio, Threshold: e.policy.Threshold, Commands: len(commands)}
	}

	if !execute {
		if len(commands) == 0 {
			log.Info().Msg("directory already converged, nothing to push")
			return nil
		}
		for _, cmd := range commands {
			log.Info().Str("command", cmd.Description()).Msg("would execute")
		}
		return nil
	}

	for _, cmd := range commands {
		err := cmd.Execute(ctx, e.client)
		if e.recorder != nil {
			e.recorder.CommandResult(ctx, cmd, err)
		}
		if err != nil {
			failed++
			log.Error().Err(err).Str("command", cmd.Description()).Msg("command failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("push finished with %d of %d commands failed", failed, len(commands))
	}
	log.Info().Int("commands", len(commands)).Msg("push finished")
	return nil
}

// membershipCommands derives add- and remove-member commands for every
// desired non-rule entity. Both directions are computed from
// desired-state truth: additions from the entity's declared memberOf,
// removals from actual targets still listing the entity, so no diff of
// two membership lists can drift with ordering.
func (e *Engine) membershipCommands() []*command.Command {
	var commands []*command.Command

	for _, kind := range entities.Kinds() {
		desc, _ := entities.Describe(kind)
		if desc.IsRule() {
			continue
		}
		for _, entity := range e.sortedDesired(kind) {
			commands = append(commands, e.memberAdditions(entity)...)
			commands = append(commands, e.memberRemovals(entity)...)
		}
	}
	return commands
}

// memberAdditions emits one add command for every desired target that
// does not yet list the entity as a member.
func (e *Engine) memberAdditions(entity *entities.Entity) []*command.Command {
	var commands []*command.Command
	for _, targetKind := range entities.Kinds() {
		targetDesc, _ := entities.Describe(targetKind)
		verb, ok := targetDesc.MemberVerbs[entity.Kind]
		if !ok {
			continue
		}
		for _, targetName := range entity.MemberOf[targetKind] {
			actualTarget := e.actual[targetKind][targetName]
			if actualTarget != nil && actualTarget.ListsMember(entity) {
				continue
			}
			commands = append(commands, command.New(verb.Add, targetName, targetDesc.IDAttr,
				map[string]any{verb.Param: entity.Name}))
		}
	}
	return commands
}

// memberRemovals emits one remove command for every actual target that
// lists the entity but is absent from its desired membership.
func (e *Engine) memberRemovals(entity *entities.Entity) []*command.Command {
	var commands []*command.Command
	for _, targetKind := range entities.Kinds() {
		targetDesc, _ := entities.Describe(targetKind)
		verb, ok := targetDesc.MemberVerbs[entity.Kind]
		if !ok {
			continue
		}
		wanted := make(map[string]bool)
		for _, name := range entity.MemberOf[targetKind] {
			wanted[name] = true
		}
		for _, actualTarget := range e.sortedActual(targetKind) {
			if !actualTarget.ListsMember(entity) || wanted[actualTarget.Name] {
				continue
			}
			commands = append(commands, command.New(verb.Remove, actualTarget.Name, targetDesc.IDAttr,
				map[string]any{verb.Param: entity.Name}))
		}
	}
	return commands
}

// entityCommands runs per-entity command synthesis against each
// desired entity's actual counterpart.
func (e *Engine) entityCommands() []*command.Command {
	var commands []*command.Command
	for _, kind := range entities.Kinds() {
		for _, entity := range e.sortedDesired(kind) {
			remote := e.actual[kind][entity.Name]
			commands = append(commands, entity.CreateCommands(remote)...)
		}
	}
	return commands
}

// deletionCommands emits deletions for actual-only entities. The whole
// category is gated off unless deletion was explicitly enabled.
func (e *Engine) deletionCommands() []*command.Command {
	if !e.policy.EnableDeletion {
		return nil
	}
	var commands []*command.Command
	for _, kind := range entities.Kinds() {
		desc, _ := entities.Describe(kind)
		for _, actual := range e.sortedActual(kind) {
			if _, wanted := e.desired[kind][actual.Name]; wanted {
				continue
			}
			commands = append(commands, command.New(string(kind)+"_del", actual.Name, desc.IDAttr, nil))
		}
	}
	return commands
}

// filterDeletionVerbs drops commands whose verb matches a configured
// deletion pattern when deletion is disabled. The patterns let
// operators decide whether member and option removal count as
// destructive, separately from entity deletion.
func (e *Engine) filterDeletionVerbs(commands []*command.Command) []*command.Command {
	if e.policy.EnableDeletion {
		return commands
	}
	kept := commands[:0]
	for _, cmd := range commands {
		if e.policy.DeletionVerb(cmd.Verb()) {
			log.Debug().Str("command", cmd.Description()).
				Msg("skipping destructive command, deletion disabled")
			continue
		}
		kept = append(kept, cmd)
	}
	return kept
}
