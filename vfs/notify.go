package vfs

import (
	"sort"
	"strings"
)

// WatchMode controls how deep a watch reaches.
type WatchMode uint8

const (
	// WatchDefault only reports changes to direct children.
	WatchDefault WatchMode = iota
	// WatchRecursive reports changes anywhere below the watched directory.
	WatchRecursive
)

// NotifyOp is a bitmask of the operations a watch is interested in.
type NotifyOp uint16

const (
	OpCreate NotifyOp = 1 << (iota + 1)
	OpOpen
	OpRead
	OpWrite
	OpRemove
	OpRename
	OpChAttr
	OpRdAttr
	OpMove
	OpCloseWrite

	OpAll = OpCreate | OpOpen | OpRead | OpWrite | OpRemove | OpRename | OpChAttr | OpRdAttr | OpMove | OpCloseWrite
)

// Action is the kind of change carried by a NotifyEvent.
type Action string

const (
	ActionCreate Action = "create"
	ActionWrite  Action = "write"
	ActionRemove Action = "remove"
	ActionRename Action = "rename"
)

// actionOps maps every action a backend can report onto the mask bits that
// select it. Backends that can not tell a rename apart report a removal and
// a creation instead, so both bits of a rename are accepted.
var actionOps = map[Action]NotifyOp{
	ActionCreate: OpCreate,
	ActionWrite:  OpWrite | OpCloseWrite,
	ActionRemove: OpRemove,
	ActionRename: OpRename | OpMove,
}

var opNames = map[string]NotifyOp{
	"create":      OpCreate,
	"open":        OpOpen,
	"read":        OpRead,
	"write":       OpWrite,
	"remove":      OpRemove,
	"rename":      OpRename,
	"chattr":      OpChAttr,
	"rdattr":      OpRdAttr,
	"move":        OpMove,
	"close_write": OpCloseWrite,
	"all":         OpAll,
}

// Op returns the mask bits that select the action.
func (a Action) Op() NotifyOp {
	return actionOps[a]
}

// Matches reports whether an event with this action passes mask.
func (a Action) Matches(mask NotifyOp) bool {
	return actionOps[a]&mask != 0
}

// ParseNotifyOps turns operation names such as "create" or "close_write"
// into a mask. No names selects every operation.
func ParseNotifyOps(names []string) (NotifyOp, error) {
	if len(names) == 0 {
		return OpAll, nil
	}
	var mask NotifyOp
	for _, n := range names {
		op, ok := opNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, Errorf(ErrCodeInvalidArgument, "unknown notify operation %q", n)
		}
		mask |= op
	}
	return mask, nil
}

// String lists the names of the bits set in the mask.
func (op NotifyOp) String() string {
	if op == OpAll {
		return "all"
	}
	var out []string
	for name, bit := range opNames {
		if bit != OpAll && op&bit != 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return strings.Join(out, "|")
}

// NotifyEvent is a single change below a watched directory. Path and FromPath
// are relative to the watched directory and never carry a leading slash.
type NotifyEvent struct {
	Path     string `json:"path"`
	Action   Action `json:"action"`
	FromPath string `json:"from_path,omitempty"`
}

// WatchFunc receives events from a watch.
type WatchFunc func(NotifyEvent)

// Relative returns p relative to the watched directory dir, and whether p is
// inside it at all for the given mode.
func Relative(dir, p string, mode WatchMode) (string, bool) {
	base := TrimDir(dir)
	if base != Root {
		base += "/"
	}
	p = TrimDir(p)
	if !strings.HasPrefix(p, base) || p == TrimDir(base) {
		return "", false
	}
	rel := strings.TrimPrefix(p, base)
	if rel == "" {
		return "", false
	}
	if mode == WatchDefault && strings.Contains(rel, "/") {
		return "", false
	}
	return rel, true
}

// Signal performs a non-blocking send on a ready channel.
func Signal(ready chan<- struct{}) {
	if ready == nil {
		return
	}
	select {
	case ready <- struct{}{}:
	default:
	}
}
