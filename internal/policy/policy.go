// Package policy implements the capability policy: a pure decision
// function mapping (requested safety level, current safety phase) to an
// allow/deny verdict and the command allow-list for that level, plus the
// live safety-phase holder shared across the bridge.
package policy

import (
	"fmt"
	"sync/atomic"

	"github.com/luCUBEratur/automatus/internal/domain"
)

// Level is a per-command requested capability tier. Levels are strictly
// ordered: read_only < controlled_write < expanded_access.
type Level string

const (
	LevelReadOnly        Level = "read_only"
	LevelControlledWrite Level = "controlled_write"
	LevelExpandedAccess  Level = "expanded_access"
)

// Command names checked against per-level allow-lists.
const (
	CommandWorkspaceQuery = "workspace.query"
	CommandFileRead       = "file.read"
	CommandFileList       = "file.list"
	CommandContextGet     = "context.get"
	CommandFileCreate     = "file.create"
	CommandFileModify     = "file.modify"
	CommandFileDelete     = "file.delete"
	CommandExecute        = "command.execute"
)

// Each level's allow-list is a strict superset of the level below it.
var (
	readOnlyCommands = []string{
		CommandWorkspaceQuery,
		CommandFileRead,
		CommandFileList,
		CommandContextGet,
	}
	controlledWriteCommands = append(readOnlyCommands[:len(readOnlyCommands):len(readOnlyCommands)],
		CommandFileCreate,
		CommandFileModify,
	)
	expandedAccessCommands = append(controlledWriteCommands[:len(controlledWriteCommands):len(controlledWriteCommands)],
		CommandFileDelete,
		CommandExecute,
	)
)

// ParseLevel validates a wire safety-level string.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelReadOnly, LevelControlledWrite, LevelExpandedAccess:
		return Level(s), nil
	default:
		return "", fmt.Errorf("invalid safety level %q", s)
	}
}

// MinPhase returns the lowest safety phase at which the level is usable,
// or 0 for an unknown level.
func (l Level) MinPhase() int {
	switch l {
	case LevelReadOnly:
		return 1
	case LevelControlledWrite:
		return 2
	case LevelExpandedAccess:
		return 3
	default:
		return 0
	}
}

// Permission returns the token permission a session must hold to request
// the level.
func (l Level) Permission() string {
	switch l {
	case LevelReadOnly:
		return domain.PermissionRead
	case LevelControlledWrite:
		return domain.PermissionWriteControlled
	case LevelExpandedAccess:
		return domain.PermissionExecuteExpanded
	default:
		return ""
	}
}

// Allows reports whether the level may be exercised at the given phase.
func Allows(l Level, phase int) bool {
	min := l.MinPhase()
	return min > 0 && phase >= min
}

// AllowedCommands returns the command allow-list for a level at a phase.
// The list is empty when the phase does not admit the level.
func AllowedCommands(l Level, phase int) []string {
	if !Allows(l, phase) {
		return nil
	}
	var src []string
	switch l {
	case LevelReadOnly:
		src = readOnlyCommands
	case LevelControlledWrite:
		src = controlledWriteCommands
	case LevelExpandedAccess:
		src = expandedAccessCommands
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// CommandAllowed reports whether command name is permitted at the level
// and phase.
func CommandAllowed(name string, l Level, phase int) bool {
	for _, c := range AllowedCommands(l, phase) {
		if c == name {
			return true
		}
	}
	return false
}

// PermissionsForPhase derives the monotonically-ordered permission set a
// token minted at the given phase carries.
func PermissionsForPhase(phase int) []string {
	perms := []string{domain.PermissionRead, domain.PermissionQuery, domain.PermissionContext}
	if phase >= 2 {
		perms = append(perms, domain.PermissionWriteControlled)
	}
	if phase >= 3 {
		perms = append(perms, domain.PermissionExecuteExpanded)
	}
	if phase >= 4 {
		perms = append(perms, domain.PermissionAdmin)
	}
	return perms
}

// PhaseController holds the live safety phase. It is owned by the bridge
// service and read on every token validation so an administrative phase
// downgrade immediately restricts already-issued tokens.
type PhaseController struct {
	phase atomic.Int32
}

// NewPhaseController creates a controller at the given phase, clamped to
// the valid range.
func NewPhaseController(phase int) *PhaseController {
	pc := &PhaseController{}
	if phase < domain.PhaseMin {
		phase = domain.PhaseMin
	}
	if phase > domain.PhaseMax {
		phase = domain.PhaseMax
	}
	pc.phase.Store(int32(phase))
	return pc
}

// Current returns the live safety phase.
func (pc *PhaseController) Current() int {
	return int(pc.phase.Load())
}

// Set changes the live safety phase. Out-of-range phases are rejected.
func (pc *PhaseController) Set(phase int) error {
	if phase < domain.PhaseMin || phase > domain.PhaseMax {
		return fmt.Errorf("safety phase must be between %d and %d", domain.PhaseMin, domain.PhaseMax)
	}
	pc.phase.Store(int32(phase))
	return nil
}
