// Package command models a single FreeIPA mutation: a verb, a target
// entry and a keyword payload. Commands carry a total order that makes
// batch execution safe: entries are created before anything modifies
// them, and members are added before anything is removed or deleted.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gooddata/freeipa-manager-sub000/freeipa"
)

// Rank buckets, ordered by execution priority. The bucket is derived
// from the verb's suffix pattern alone.
const (
	rankCreate = iota // user_add, group_add, ...
	rankModify        // user_mod, ...
	rankMemberAdd     // hbacrule_add_user, group_add_member, ...
	rankRemove        // *_remove_*, *_del
)

// Command is one atomic directory mutation. It is immutable once
// constructed; Payload is copied on construction and never handed out
// by reference.
type Command struct {
	verb         string
	targetName   string
	targetIDAttr string
	payload      map[string]any
	description  string
	rank         int
}

// New builds a command. The target's identifying attribute is kept
// separate from the payload and merged in at execution time.
func New(verb, targetName, targetIDAttr string, payload map[string]any) *Command {
	copied := make(map[string]any, len(payload))
	for k, v := range payload {
		copied[k] = v
	}
	return &Command{
		verb:         verb,
		targetName:   targetName,
		targetIDAttr: targetIDAttr,
		payload:      copied,
		description:  describe(verb, targetName, copied),
		rank:         rankOf(verb),
	}
}

func (c *Command) Verb() string        { return c.verb }
func (c *Command) TargetName() string  { return c.targetName }
func (c *Command) Description() string { return c.description }
func (c *Command) Rank() int           { return c.rank }

// PayloadValue returns a payload entry; used by tests and the audit log.
func (c *Command) PayloadValue(key string) (any, bool) {
	v, ok := c.payload[key]
	return v, ok
}

// Less orders commands by (rank, description). Sorting a queue with it
// guarantees creations run before modifications, modifications before
// member additions, and every removal or deletion last.
func (c *Command) Less(other *Command) bool {
	if c.rank != other.rank {
		return c.rank < other.rank
	}
	return c.description < other.description
}

// Sort orders a command queue in execution order.
func Sort(commands []*Command) {
	sort.SliceStable(commands, func(i, j int) bool {
		return commands[i].Less(commands[j])
	})
}

// Execute runs the command against the client. A response with a
// non-empty summary is success; otherwise the "failed" substructure is
// scanned for non-empty item lists (the server sometimes sends a failed
// block whose inner maps are all empty even on success). Any error,
// including an unknown verb, is returned for this command only and must
// not abort sibling commands.
func (c *Command) Execute(ctx context.Context, client freeipa.Client) error {
	options := make(map[string]any, len(c.payload)+1)
	for k, v := range c.payload {
		options[k] = v
	}
	options[c.targetIDAttr] = c.targetName

	response, err := client.Invoke(ctx, c.verb, options)
	if err != nil {
		if freeipa.IsUnknownCommand(err) {
			return fmt.Errorf("%s: command not recognized by server: %w", c.description, err)
		}
		return fmt.Errorf("%s: %w", c.description, err)
	}

	if response.Summary != "" {
		log.Info().Str("command", c.description).Msg(response.Summary)
		return nil
	}

	failures := response.Failures()
	if len(failures) == 0 {
		// No summary and no real per-item errors: silent success.
		log.Debug().Str("command", c.description).Msg("executed")
		return nil
	}

	lines := make([]string, 0, len(failures))
	for _, failure := range failures {
		lines = append(lines, fmt.Sprintf("- %s: %s", failure.Item, failure.Message))
	}
	return fmt.Errorf("%s failed:\n%s", c.description, strings.Join(lines, "\n"))
}

func rankOf(verb string) int {
	switch {
	case strings.HasSuffix(verb, "_add"):
		return rankCreate
	case strings.HasSuffix(verb, "_mod"):
		return rankModify
	case strings.HasSuffix(verb, "_del"), strings.Contains(verb, "_remove_"):
		return rankRemove
	case strings.Contains(verb, "_add_"):
		return rankMemberAdd
	default:
		return rankModify
	}
}

func describe(verb, targetName string, payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(payload[k])))
	}
	return fmt.Sprintf("%s %s (%s)", verb, targetName, strings.Join(parts, "; "))
}

func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ",")
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}
