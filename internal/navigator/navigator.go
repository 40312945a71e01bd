// Package navigator implements the StateNavigator: resolving an arbitrary
// local absolute path to the binding that covers it, and aggregating the
// folder-state rollup a UI shows for a directory.
package navigator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/driveagent/driveagent/internal/ctlerr"
	"github.com/driveagent/driveagent/internal/store"
)

// Navigator is the StateNavigator described in SPEC_FULL.md §4.6.
type Navigator struct {
	store *store.Store
}

// New constructs a Navigator.
func New(st *store.Store) *Navigator {
	return &Navigator{store: st}
}

// ChildState is one entry in a folder's rolled-up listing.
type ChildState struct {
	Name  string
	State store.PairState
}

// BindingForPath resolves the binding covering absPath and the
// repository-relative path within it (always starting with "/").
func (n *Navigator) BindingForPath(ctx context.Context, absPath string) (*store.ServerBinding, string, error) {
	absPath, err := filepath.Abs(absPath)
	if err != nil {
		return nil, "", fmt.Errorf("navigator.BindingForPath: %w", err)
	}
	absPath = filepath.Clean(absPath)

	sess, err := n.store.Session(ctx)
	if err != nil {
		return nil, "", err
	}
	defer sess.Close()

	bindings, err := sess.ListBindings(ctx)
	if err != nil {
		return nil, "", err
	}

	for _, b := range bindings {
		if b.LocalFolder == absPath {
			return b, "/", nil
		}
	}

	var matches []*store.ServerBinding
	for _, b := range bindings {
		prefix := b.LocalFolder + string(filepath.Separator)
		if strings.HasPrefix(absPath, prefix) {
			matches = append(matches, b)
		}
	}

	switch len(matches) {
	case 0:
		return nil, "", ctlerr.New(ctlerr.NotFound, "navigator.BindingForPath",
			fmt.Errorf("no binding covers %q", absPath))
	case 1:
		rel := strings.TrimPrefix(absPath, matches[0].LocalFolder)
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}
		return matches[0], rel, nil
	default:
		return nil, "", ctlerr.New(ctlerr.AmbiguousBinding, "navigator.BindingForPath",
			fmt.Errorf("%d bindings cover %q", len(matches), absPath))
	}
}

// ChildrenStates resolves the LastKnownState whose local_path within
// localFolder equals folderAbsPath and returns the direct children's (name,
// aggregated pair state) pairs. folderAbsPath is the repository-relative
// local_path ("/" for the bound root); an absolute filesystem path is not
// resolved and finds no state. Returns an empty slice when the folder has
// no tracked state yet.
func (n *Navigator) ChildrenStates(ctx context.Context, localFolder, folderAbsPath string) ([]ChildState, error) {
	sess, err := n.store.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	folder, err := sess.GetStateByLocalPath(ctx, localFolder, folderAbsPath)
	if err != nil {
		if ctlerr.KindOf(err) == ctlerr.NotFound {
			return nil, nil
		}
		return nil, err
	}

	children, err := sess.ChildrenOf(ctx, localFolder, folder.LocalPath, folder.RemoteRef)
	if err != nil {
		return nil, err
	}

	out := make([]ChildState, 0, len(children))
	for _, child := range children {
		state, err := aggregate(ctx, sess, localFolder, child)
		if err != nil {
			return nil, err
		}
		name := child.LocalName
		if name == "" {
			name = child.RemoteName
		}
		out = append(out, ChildState{Name: name, State: state})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// aggregate implements the recursive rollup of SPEC_FULL.md §4.6: a
// non-folderish pair contributes its own state; a folderish pair's state
// becomes children_modified the instant any descendant, at any depth, is
// not synchronized.
func aggregate(ctx context.Context, sess *store.Session, localFolder string, p *store.LastKnownState) (store.PairState, error) {
	if !p.Folderish {
		return p.PairState, nil
	}

	children, err := sess.ChildrenOf(ctx, localFolder, p.LocalPath, p.RemoteRef)
	if err != nil {
		return "", err
	}

	rolled := p.PairState
	for _, child := range children {
		childState, err := aggregate(ctx, sess, localFolder, child)
		if err != nil {
			return "", err
		}
		if childState != store.PairSynchronized {
			rolled = store.PairChildrenModified
		}
	}
	return rolled, nil
}
