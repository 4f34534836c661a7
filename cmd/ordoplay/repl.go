// SPDX-License-Identifier: MIT OR Apache-2.0

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ordokr/OrdoPlayEditor/pkg/logging"
	"github.com/ordokr/OrdoPlayEditor/services/editor/scene"
	"github.com/ordokr/OrdoPlayEditor/services/editor/session"
	"github.com/ordokr/OrdoPlayEditor/services/editor/snapshot"
)

// editSession bundles the live editor state the command loop drives.
type editSession struct {
	world     *scene.World
	sess      *session.Session
	selection scene.Selection
}

func runEdit(cmd *cobra.Command, args []string) {
	logger := logging.New(cfg.LoggingConfig("editor"))
	defer logger.Close()

	store := snapshot.NewStore(logger.Slog())
	world := scene.NewWorld(store, logger.Slog())
	es := &editSession{
		world: world,
		sess:  session.New(world, store, cfg.HistoryOptions(), logger.Slog()),
	}

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	if interactive {
		fmt.Println("OrdoPlay editing session. Type \"help\" for commands, \"quit\" to exit.")
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		if interactive {
			fmt.Print("> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] == "quit" || fields[0] == "exit" {
			break
		}
		if err := es.dispatch(cmd.Context(), fields); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}

	if es.sess.InTransaction() {
		if err := es.sess.Cancel(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "error cancelling open transaction:", err)
		}
	}
	if !es.sess.IsClean() {
		fmt.Fprintln(os.Stderr, "warning: exiting with unsaved changes")
	}
}

func (es *editSession) dispatch(ctx context.Context, fields []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		printHelp()
		return nil
	case "spawn":
		return es.cmdSpawn(ctx, args)
	case "ls", "tree":
		es.printTree()
		return nil
	case "select":
		return es.cmdSelect(args)
	case "move":
		return es.cmdMove(ctx, args)
	case "rotate":
		return es.cmdRotate(ctx, args)
	case "name":
		return es.cmdName(ctx, args)
	case "show":
		return es.cmdVisible(ctx, true)
	case "hide":
		return es.cmdVisible(ctx, false)
	case "set":
		return es.cmdSetProperty(ctx, args)
	case "delete":
		return es.cmdDelete(ctx)
	case "duplicate":
		return es.cmdDuplicate(ctx)
	case "reparent":
		return es.cmdReparent(ctx, args)
	case "begin":
		return es.sess.Begin(strings.Join(args, " "))
	case "end":
		res, err := es.sess.End(ctx)
		if err == nil && res.Evicted.Occurred() {
			fmt.Printf("note: evicted %d old history entries (%d bytes)\n",
				res.Evicted.Groups, res.Evicted.FreedBytes)
		}
		return err
	case "cancel":
		return es.sess.Cancel(ctx)
	case "undo":
		return es.sess.Undo(ctx)
	case "redo":
		return es.sess.Redo(ctx)
	case "history":
		es.printHistory()
		return nil
	case "save":
		es.sess.Save()
		fmt.Println("saved")
		return nil
	case "stats":
		es.printStats()
		return nil
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", cmd)
	}
}

func printHelp() {
	fmt.Print(`scene:
  spawn <name> [parent]    create an entity (parent: id prefix or name)
  ls | tree                print the scene tree
  select <id|name>         select an entity for subsequent edits
  move <x> <y> <z>         set position of the selection
  rotate <x> <y> <z>       set rotation of the selection (euler degrees)
  name <new-name>          rename the selection
  show | hide              toggle visibility of the selection
  set <prop> <value>       set a numeric property on the selection
  delete                   delete the selected subtree
  duplicate                duplicate the selected subtree
  reparent <id|name>       move the selection under a new parent
history:
  begin <desc> / end / cancel   group edits into one undo step
  undo / redo / history         walk the edit history
  save / stats                  mark saved, show engine stats
  quit                          exit the session
`)
}

// resolve finds an entity by ID prefix or exact name.
func (es *editSession) resolve(token string) (scene.EntityID, error) {
	var match scene.EntityID
	found := 0
	for _, root := range es.world.Roots() {
		for _, id := range es.world.SubtreeIDs(root) {
			e, ok := es.world.Get(id)
			if !ok {
				continue
			}
			if e.Name == token || strings.HasPrefix(id.String(), token) {
				match = id
				found++
			}
		}
	}
	switch found {
	case 0:
		return scene.EntityID{}, fmt.Errorf("no entity matches %q", token)
	case 1:
		return match, nil
	default:
		return scene.EntityID{}, fmt.Errorf("%q is ambiguous (%d matches)", token, found)
	}
}

func (es *editSession) selected() (scene.EntityID, error) {
	id, ok := es.selection.Primary()
	if !ok {
		return scene.EntityID{}, errors.New("nothing selected (use \"select\")")
	}
	if !es.world.Exists(id) {
		es.selection.Remove(id)
		return scene.EntityID{}, errors.New("selection no longer exists")
	}
	return id, nil
}

func (es *editSession) cmdSelect(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: select <id|name>")
	}
	id, err := es.resolve(args[0])
	if err != nil {
		return err
	}
	es.selection.Set(id)
	e, _ := es.world.Get(id)
	fmt.Printf("selected %s (%s)\n", e.Name, shortID(id))
	return nil
}

func (es *editSession) cmdSpawn(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: spawn <name> [parent]")
	}
	var parent scene.EntityID
	if len(args) > 1 {
		p, err := es.resolve(args[1])
		if err != nil {
			return err
		}
		parent = p
	}

	id, err := es.world.Spawn(args[0], parent)
	if err != nil {
		return err
	}
	target := snapshot.Target{Entity: id, Kind: snapshot.KindSubtree}
	before, err := es.world.CaptureAbsent(id)
	if err != nil {
		return err
	}
	after, err := es.world.Capture(target)
	if err != nil {
		return err
	}
	_, err = es.sess.Submit(ctx, session.Edit{
		Target:      target,
		Kind:        "entity.spawn",
		Before:      before,
		After:       after,
		Description: "Spawn " + args[0],
	})
	if err != nil {
		return err
	}
	es.selection.Set(id)
	fmt.Printf("spawned %s (%s)\n", args[0], shortID(id))
	return nil
}

// fieldEdit captures around a field mutation and submits the edit.
func (es *editSession) fieldEdit(ctx context.Context, id scene.EntityID, field, kind, desc string, mutate func() error) error {
	target := snapshot.Target{Entity: id, Field: field, Kind: snapshot.KindField}
	before, err := es.world.Capture(target)
	if err != nil {
		return err
	}
	if err := mutate(); err != nil {
		return err
	}
	after, err := es.world.Capture(target)
	if err != nil {
		return err
	}
	_, err = es.sess.Submit(ctx, session.Edit{
		Target:      target,
		Kind:        kind,
		Before:      before,
		After:       after,
		Description: desc,
	})
	return err
}

// subtreeEdit captures around a structural mutation of a whole subtree.
func (es *editSession) subtreeEdit(ctx context.Context, id scene.EntityID, kind, desc string, mutate func() error) error {
	target := snapshot.Target{Entity: id, Kind: snapshot.KindSubtree}
	before, err := es.world.Capture(target)
	if err != nil {
		return err
	}
	if err := mutate(); err != nil {
		return err
	}
	after, err := es.world.Capture(target)
	if err != nil {
		return err
	}
	_, err = es.sess.Submit(ctx, session.Edit{
		Target:      target,
		Kind:        kind,
		Before:      before,
		After:       after,
		Description: desc,
	})
	return err
}

func (es *editSession) cmdMove(ctx context.Context, args []string) error {
	id, err := es.selected()
	if err != nil {
		return err
	}
	v, err := parseVec3(args)
	if err != nil {
		return err
	}
	e, _ := es.world.Get(id)
	t := e.Transform
	t.Position = v
	return es.fieldEdit(ctx, id, scene.FieldTransform, "transform.translate",
		fmt.Sprintf("Move %s", e.Name), func() error {
			return es.world.SetTransform(id, t)
		})
}

func (es *editSession) cmdRotate(ctx context.Context, args []string) error {
	id, err := es.selected()
	if err != nil {
		return err
	}
	v, err := parseVec3(args)
	if err != nil {
		return err
	}
	e, _ := es.world.Get(id)
	t := e.Transform
	t.Rotation = scene.QuatFromEulerDegrees(v[0], v[1], v[2])
	return es.fieldEdit(ctx, id, scene.FieldTransform, "transform.rotate",
		fmt.Sprintf("Rotate %s", e.Name), func() error {
			return es.world.SetTransform(id, t)
		})
}

func (es *editSession) cmdName(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: name <new-name>")
	}
	id, err := es.selected()
	if err != nil {
		return err
	}
	e, _ := es.world.Get(id)
	return es.fieldEdit(ctx, id, scene.FieldName, "entity.rename",
		fmt.Sprintf("Rename %s to %s", e.Name, args[0]), func() error {
			return es.world.SetName(id, args[0])
		})
}

func (es *editSession) cmdVisible(ctx context.Context, visible bool) error {
	id, err := es.selected()
	if err != nil {
		return err
	}
	e, _ := es.world.Get(id)
	desc := "Hide " + e.Name
	if visible {
		desc = "Show " + e.Name
	}
	return es.fieldEdit(ctx, id, scene.FieldVisible, "entity.visibility", desc,
		func() error {
			return es.world.SetVisible(id, visible)
		})
}

func (es *editSession) cmdSetProperty(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: set <prop> <value>")
	}
	id, err := es.selected()
	if err != nil {
		return err
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	e, _ := es.world.Get(id)

	// A property that does not exist yet has no field capture, so the
	// first write is recorded as an entity-level edit.
	if _, ok := e.Properties[args[0]]; !ok {
		target := snapshot.Target{Entity: id, Kind: snapshot.KindEntity}
		before, err := es.world.Capture(target)
		if err != nil {
			return err
		}
		if err := es.world.SetProperty(id, args[0], value); err != nil {
			return err
		}
		after, err := es.world.Capture(target)
		if err != nil {
			return err
		}
		_, err = es.sess.Submit(ctx, session.Edit{
			Target:      target,
			Kind:        "property.create",
			Before:      before,
			After:       after,
			Description: fmt.Sprintf("Set %s.%s", e.Name, args[0]),
		})
		return err
	}

	return es.fieldEdit(ctx, id, scene.PropFieldPrefix+args[0], "property.set",
		fmt.Sprintf("Set %s.%s", e.Name, args[0]), func() error {
			return es.world.SetProperty(id, args[0], value)
		})
}

func (es *editSession) cmdDelete(ctx context.Context) error {
	id, err := es.selected()
	if err != nil {
		return err
	}
	e, _ := es.world.Get(id)
	err = es.subtreeEdit(ctx, id, "entity.delete", "Delete "+e.Name, func() error {
		return es.world.Delete(id)
	})
	if err == nil {
		es.selection.Remove(id)
	}
	return err
}

func (es *editSession) cmdDuplicate(ctx context.Context) error {
	id, err := es.selected()
	if err != nil {
		return err
	}
	e, _ := es.world.Get(id)

	dupID, err := es.world.Duplicate(id)
	if err != nil {
		return err
	}
	target := snapshot.Target{Entity: dupID, Kind: snapshot.KindSubtree}
	before, err := es.world.CaptureAbsent(dupID)
	if err != nil {
		return err
	}
	after, err := es.world.Capture(target)
	if err != nil {
		return err
	}
	_, err = es.sess.Submit(ctx, session.Edit{
		Target:      target,
		Kind:        "entity.duplicate",
		Before:      before,
		After:       after,
		Description: "Duplicate " + e.Name,
	})
	if err != nil {
		return err
	}
	es.selection.Set(dupID)
	fmt.Printf("duplicated as %s\n", shortID(dupID))
	return nil
}

func (es *editSession) cmdReparent(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: reparent <id|name>")
	}
	id, err := es.selected()
	if err != nil {
		return err
	}
	newParent, err := es.resolve(args[0])
	if err != nil {
		return err
	}
	e, _ := es.world.Get(id)
	return es.subtreeEdit(ctx, id, "entity.reparent", "Reparent "+e.Name, func() error {
		return es.world.Reparent(id, newParent)
	})
}

func (es *editSession) printTree() {
	roots := es.world.Roots()
	if len(roots) == 0 {
		fmt.Println("(empty scene)")
		return
	}
	for _, root := range roots {
		es.printSubtree(root, 0)
	}
}

func (es *editSession) printSubtree(id scene.EntityID, depth int) {
	e, ok := es.world.Get(id)
	if !ok {
		return
	}
	marker := " "
	if sel, ok := es.selection.Primary(); ok && sel == id {
		marker = "*"
	}
	vis := ""
	if !e.Visible {
		vis = " [hidden]"
	}
	fmt.Printf("%s%s%s (%s) pos=%.6g,%.6g,%.6g%s\n",
		strings.Repeat("  ", depth), marker, e.Name, shortID(id),
		e.Transform.Position[0], e.Transform.Position[1], e.Transform.Position[2], vis)
	for _, child := range e.Children {
		es.printSubtree(child, depth+1)
	}
}

func (es *editSession) printHistory() {
	entries := es.sess.List(20)
	if len(entries) == 0 {
		fmt.Println("(empty history)")
		return
	}
	for _, entry := range entries {
		state := "redo"
		if entry.Applied {
			state = "undo"
		}
		fmt.Printf("  [%s] %s (%d ops, %d bytes)\n",
			state, entry.Description, entry.Ops, entry.SizeBytes)
	}
}

func (es *editSession) printStats() {
	hs := es.sess.History().StatsSnapshot()
	ss := es.world.Store().Stats()
	fmt.Printf("history: %d undo / %d redo, %d of %d bytes, clean=%v\n",
		hs.UndoDepth, hs.RedoDepth, hs.MemoryUsed, hs.BudgetBytes, hs.Clean)
	fmt.Printf("store:   %d chunks, %d bytes retained, %d interned, %d deduped\n",
		ss.Chunks, ss.RetainedBytes, ss.Interned, ss.Deduped)
}

func parseVec3(args []string) ([3]float64, error) {
	var v [3]float64
	if len(args) != 3 {
		return v, errors.New("expected three numbers: <x> <y> <z>")
	}
	for i, arg := range args {
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return v, fmt.Errorf("invalid number %q: %w", arg, err)
		}
		v[i] = f
	}
	return v, nil
}

func shortID(id scene.EntityID) string {
	return id.String()[:8]
}
