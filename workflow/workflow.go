// Package workflow defines the workflow kinds wvrunner can run.
//
// Kinds differ only in their payload: the instruction text sent to the agent,
// the model selector and whether permission prompts are skipped. All kinds
// are executed by the same supervisor and retry controller.
package workflow

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/justapithecus/wvrunner/types"
)

// Kind is a workflow variant.
type Kind string

// Supported workflow kinds.
const (
	// KindDevelop picks the next task and implements it.
	KindDevelop Kind = "develop"
	// KindReview reviews open pull requests.
	KindReview Kind = "review"
	// KindCIFix repairs failing CI on an open pull request.
	KindCIFix Kind = "ci_fix"
	// KindMaintenance performs repository housekeeping.
	KindMaintenance Kind = "maintenance"
)

// DefaultModel is used when neither the workflow nor the agent config names one.
const DefaultModel = "sonnet"

var kinds = []Kind{KindDevelop, KindReview, KindCIFix, KindMaintenance}

// Kinds returns all supported kinds in a stable order.
func Kinds() []Kind {
	return slices.Clone(kinds)
}

// ParseKind validates a workflow kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.TrimSpace(s))
	if slices.Contains(kinds, k) {
		return k, nil
	}
	return "", fmt.Errorf("unknown workflow %q (valid: %s)", s, strings.Join(kindNames(), ", "))
}

func kindNames() []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Workflow is a workflow kind with its resolved payload.
type Workflow struct {
	Kind Kind
	// Instructions is the opaque prompt payload.
	Instructions string
	// Model is the opaque model selector passed to the agent.
	Model string
	// SkipPermissions auto-accepts tool permission prompts.
	SkipPermissions bool
}

// New returns the built-in workflow for kind.
func New(kind Kind) Workflow {
	return Workflow{
		Kind:            kind,
		Instructions:    DefaultInstructions(kind),
		Model:           DefaultModel,
		SkipPermissions: kind != KindReview,
	}
}

// Validate checks that the workflow can be launched.
func (w Workflow) Validate() error {
	if _, err := ParseKind(string(w.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(w.Instructions) == "" {
		return errors.New("workflow instructions must be non-empty")
	}
	if strings.TrimSpace(w.Model) == "" {
		return errors.New("workflow model must be non-empty")
	}
	return nil
}

// Augment wraps the original instructions for a continuation attempt: the
// agent is asked to inspect what a previous session already did and finish
// the remaining work before reporting the result. It is a pure function of
// its input.
func Augment(original string) string {
	var b strings.Builder
	b.WriteString("A previous session working on the task below ended before it reported a result.\n")
	b.WriteString("Do not start over. Inspect the progress already made (working tree, commits, branches, pull requests), ")
	b.WriteString("complete any remaining steps, and then report the outcome as instructed, ")
	b.WriteString("beginning with the literal text ")
	b.WriteString(strings.TrimSpace(types.Marker))
	b.WriteString(".\n\n")
	b.WriteString("--- original task ---\n")
	b.WriteString(original)
	return b.String()
}

// DefaultInstructions returns the built-in instruction payload for kind.
// Deployments normally supply their own text through configuration.
func DefaultInstructions(kind Kind) string {
	var task string
	switch kind {
	case KindDevelop:
		task = "Pick the highest-priority open task assigned to you, implement it on a new branch, and open a pull request."
	case KindReview:
		task = "Review the open pull requests awaiting your review and leave actionable comments."
	case KindCIFix:
		task = "Find your open pull requests with failing CI, fix the failures, and push the fixes."
	case KindMaintenance:
		task = "Perform routine repository maintenance: update dependencies, fix lint warnings, and remove dead code."
	default:
		return ""
	}
	return task + "\n\n" + resultFooter
}

var resultFooter = "When you are finished, print exactly one line starting with " + types.Marker +
	`followed by a JSON object: {"status": "success" | "no_more_tasks" | "ci_failed" | "error", ` +
	`"hours": {"per_day": <daily hour goal>, "task_estimated": <hours>}, "message": "<short summary>"}`
