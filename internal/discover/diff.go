package discover

import (
	"github.com/estuary/flow-controller/internal/catalog"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/nsf/jsondiff"
)

// BindingDiff is the outcome of comparing discovered bindings against
// a capture's current bindings, keyed by resource path (§4.9).
type BindingDiff struct {
	Added    []DiscoveredBinding
	Modified []ModifiedBinding
	Removed  []CurrentBinding
}

// ModifiedBinding pairs a discovered binding with the current binding
// it replaces, because its resource config or collection schema/key
// differs.
type ModifiedBinding struct {
	Current    CurrentBinding
	Discovered DiscoveredBinding
}

// IsNoOp reports whether the diff represents no change (§8 round-trip
// law: "a diff identical to the current state is a no-op").
func (d BindingDiff) IsNoOp() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// CurrentBinding is one of a capture's existing bindings, tagged with
// its previously-recorded resource path and its target collection's
// live key. The capture model itself does not carry resource paths on
// CaptureBinding (they are opaque connector-assigned identifiers
// recorded at discover time), so callers reconstruct this list from
// the capture's discover-time bookkeeping plus a resolve of each
// binding's target collection.
type CurrentBinding struct {
	Path          string
	Target        models.Name
	Binding       catalog.CaptureBinding
	CollectionKey []string
}

// NewCurrentBinding constructs a CurrentBinding from its discover-time
// resource path, its present capture binding, and its target
// collection's current key.
func NewCurrentBinding(path string, binding catalog.CaptureBinding, collectionKey []string) CurrentBinding {
	return CurrentBinding{Path: path, Target: binding.Target, Binding: binding, CollectionKey: collectionKey}
}

// Diff compares discovered against current. Per §9 Open Question (b),
// this implementation takes the conservative behavior: removals are
// suppressed entirely when discover returns an empty binding set, to
// avoid wholesale teardown on a transient empty discover; removals
// otherwise require the capture to currently have at least one enabled
// binding (§4.9).
func Diff(discovered []DiscoveredBinding, current []CurrentBinding, hasEnabledBinding bool) BindingDiff {
	var out BindingDiff
	var byPath = make(map[string]CurrentBinding, len(current))
	for _, c := range current {
		byPath[c.Path] = c
	}

	var seen = make(map[string]bool, len(discovered))
	for _, d := range discovered {
		var path = joinPath(d.ResourcePath)
		seen[path] = true

		cur, exists := byPath[path]
		if !exists {
			out.Added = append(out.Added, d)
			continue
		}
		var _, keyChanged = DetectKeyChange(path, cur.CollectionKey, d.Key)
		if bindingChanged(cur.Binding, d) || keyChanged {
			out.Modified = append(out.Modified, ModifiedBinding{Current: cur, Discovered: d})
		}
	}

	if len(discovered) == 0 || !hasEnabledBinding {
		return out
	}
	for path, cur := range byPath {
		if !seen[path] {
			out.Removed = append(out.Removed, cur)
		}
	}
	return out
}

func joinPath(parts []string) string {
	return JoinResourcePath(parts)
}

// JoinResourcePath renders a connector-assigned resource path as the
// flat string CurrentBinding.Path and DiscoveredBinding's own path
// compare by, so callers reconstructing a capture's current bindings
// from status bookkeeping can produce a path directly comparable to
// what Diff derives from a fresh discover response.
func JoinResourcePath(parts []string) string {
	var out string
	for i, p := range parts {
		if i > 0 {
			out += "\x1f"
		}
		out += p
	}
	return out
}

// bindingChanged reports whether the discovered binding's resource
// config differs structurally from the current binding's, using a
// JSON-semantic comparison so field reordering and whitespace don't
// spuriously trigger a "modified" diff entry. A collection key change
// is detected separately in evolve.go, where the live collection's
// current key is available for comparison.
func bindingChanged(current catalog.CaptureBinding, discovered DiscoveredBinding) bool {
	if current.ResourceConfig == nil || discovered.ResourceConfig == nil {
		return len(current.ResourceConfig) != len(discovered.ResourceConfig)
	}
	diff, _ := jsondiff.Compare(current.ResourceConfig, discovered.ResourceConfig, &jsondiff.Options{})
	return diff != jsondiff.FullMatch
}
