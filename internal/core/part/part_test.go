package part

import (
	"testing"

	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stub is a configurable behavior used by the tests in this package.
type stub struct {
	kind     Kind
	accepts  []Kind
	handles  map[string]bool
	changes  []string
	received []message.Message
	stopped  bool
	restored []string // owner id seen by each Restored call
}

func (s *stub) Kind() Kind                    { return s.kind }
func (s *stub) AcceptedChildKinds() []Kind    { return s.accepts }
func (s *stub) DeclareProperties(*Part) error { return nil }

func (s *stub) OnPropertyChanged(_ *Part, name string, _ any) {
	s.changes = append(s.changes, name)
}

func (s *stub) Respond(_ *Part, msg message.Message) bool {
	s.received = append(s.received, msg)
	return s.handles[msg.Selector()]
}

func (s *stub) OnDestroy(*Part) { s.stopped = true }

func (s *stub) Restored(p *Part) {
	owner := ""
	if p.Owner() != nil {
		owner = p.Owner().ID()
	}
	s.restored = append(s.restored, owner)
}

type fakeSystem struct {
	understands map[string]bool
	received    []message.Message
}

func (f *fakeSystem) Receive(msg message.Message) bool {
	f.received = append(f.received, msg)
	return f.understands[msg.Selector()]
}

type view struct {
	changes []string
}

func (v *view) PropertyChanged(name string, _ any, _ string) {
	v.changes = append(v.changes, name)
}

func newTestFactory(t *testing.T) (*Factory, *fakeSystem) {
	t.Helper()
	f := NewFactory(zap.NewNop())
	f.Register(KindWorld, func() Behavior { return &stub{kind: KindWorld, accepts: []Kind{KindStack}} })
	f.Register(KindStack, func() Behavior { return &stub{kind: KindStack, accepts: []Kind{KindCard}} })
	f.Register(KindCard, func() Behavior {
		return &stub{kind: KindCard, accepts: []Kind{KindField, KindButton}}
	})
	f.Register(KindField, func() Behavior { return &stub{kind: KindField} })
	f.Register(KindButton, func() Behavior { return &stub{kind: KindButton} })
	sys := &fakeSystem{understands: map[string]bool{"compile": true}}
	f.Dispatcher().SetSystem(sys)
	return f, sys
}

type tree struct {
	world, stack, card, field, button *Part
}

func buildTree(t *testing.T, f *Factory) tree {
	t.Helper()
	var tr tree
	var err error
	tr.world, err = f.New(KindWorld)
	require.NoError(t, err)
	tr.stack, err = f.New(KindStack)
	require.NoError(t, err)
	tr.card, err = f.New(KindCard)
	require.NoError(t, err)
	tr.field, err = f.New(KindField)
	require.NoError(t, err)
	tr.button, err = f.New(KindButton)
	require.NoError(t, err)
	require.NoError(t, tr.world.AddChild(tr.stack))
	require.NoError(t, tr.stack.AddChild(tr.card))
	require.NoError(t, tr.card.AddChild(tr.field))
	require.NoError(t, tr.card.AddChild(tr.button))
	return tr
}

func stubOf(p *Part) *stub { return p.Behavior().(*stub) }

func TestFactory_IDs(t *testing.T) {
	f, _ := newTestFactory(t)
	tr := buildTree(t, f)
	assert.Equal(t, WorldID, tr.world.ID())
	assert.Equal(t, "1", tr.stack.ID())
	assert.Equal(t, "4", tr.button.ID())

	_, err := f.New(KindWorld)
	assert.ErrorIs(t, err, ErrWorldExists)
	_, err = f.New(KindSvg)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = tr.card.RemoveChild(tr.field.ID())
	require.NoError(t, err)
	next, err := f.New(KindField)
	require.NoError(t, err)
	assert.Equal(t, "5", next.ID(), "rejected kinds draw no id; removed ids are not reused")
}

func TestPart_AddChildRejectsKind(t *testing.T) {
	f, _ := newTestFactory(t)
	tr := buildTree(t, f)
	stray, err := f.New(KindStack)
	require.NoError(t, err)

	before := tr.card.Subparts()
	err = tr.card.AddChild(stray)
	assert.ErrorIs(t, err, ErrRejectedChildKind)
	assert.Equal(t, before, tr.card.Subparts())
	assert.Nil(t, stray.Owner())

	err = tr.world.AddChild(tr.stack)
	assert.ErrorIs(t, err, ErrHasOwner)
	assert.Len(t, tr.world.Subparts(), 1)
}

func TestPart_AddChildRejectsCycle(t *testing.T) {
	f := NewFactory(zap.NewNop())
	f.Register(KindCard, func() Behavior { return &stub{kind: KindCard, accepts: []Kind{KindCard}} })
	a, _ := f.New(KindCard)
	b, _ := f.New(KindCard)
	require.NoError(t, a.AddChild(b))
	assert.ErrorIs(t, b.AddChild(a), ErrOwnershipCycle)
	assert.ErrorIs(t, a.AddChild(a), ErrOwnershipCycle)
}

func TestPart_RemoveChildTearsDownSubtree(t *testing.T) {
	f, _ := newTestFactory(t)
	tr := buildTree(t, f)

	v1, v2 := &view{}, &view{}
	tr.field.Properties().SubscribeAll(v1)
	require.NoError(t, tr.field.Properties().Subscribe("name", v2))
	sibling := &view{}
	tr.button.Properties().SubscribeAll(sibling)

	removed, err := tr.stack.RemoveChild(tr.card.ID())
	require.NoError(t, err)
	assert.Same(t, tr.card, removed)
	assert.Nil(t, tr.card.Owner())
	assert.True(t, tr.field.IsDestroyed())
	assert.True(t, stubOf(tr.field).stopped)
	assert.Equal(t, 0, tr.field.Properties().SubscriberCount("name"))
	_, ok := f.Lookup(tr.field.ID())
	assert.False(t, ok)

	// Writes on the removed parts no longer reach the old views.
	require.NoError(t, tr.field.Set("name", "x"))
	require.NoError(t, tr.button.Set("name", "y"))
	assert.Empty(t, v1.changes)
	assert.Empty(t, v2.changes)
	assert.Empty(t, sibling.changes)

	_, err = tr.world.SendMessage(message.Command("mouseUp"), tr.field)
	assert.ErrorIs(t, err, ErrDestroyedPart)
	assert.ErrorIs(t, tr.stack.AddChild(tr.card), ErrDestroyedPart)

	_, err = tr.stack.RemoveChild("nope")
	assert.ErrorIs(t, err, ErrNoSuchChild)
}

func TestPart_RemoveSurvivingSiblingUnaffected(t *testing.T) {
	f, _ := newTestFactory(t)
	tr := buildTree(t, f)

	r1, r2 := &view{}, &view{}
	tr.field.Properties().SubscribeAll(r1)
	tr.field.Properties().SubscribeAll(r2)
	_, err := tr.card.RemoveChild(tr.field.ID())
	require.NoError(t, err)

	require.NoError(t, tr.button.Set("name", "ok"))
	assert.Empty(t, r1.changes)
	assert.Empty(t, r2.changes)
}

func TestPart_OwnHookFiresOnChange(t *testing.T) {
	f, _ := newTestFactory(t)
	tr := buildTree(t, f)
	require.NoError(t, tr.field.Set("width", 10.0))
	assert.Equal(t, []string{"width"}, stubOf(tr.field).changes)
}

func TestPart_ScriptChangeEmitsCompile(t *testing.T) {
	f, sys := newTestFactory(t)
	tr := buildTree(t, f)
	require.NoError(t, tr.button.Set("script", "on mouseUp\nend mouseUp"))

	require.Len(t, sys.received, 1)
	msg := sys.received[0]
	assert.Equal(t, message.TypeCompile, msg.Type)
	assert.Equal(t, "on mouseUp\nend mouseUp", msg.Source)
	assert.Equal(t, tr.button.ID(), msg.TargetID)
}

func TestFactory_DiscardUnmounted(t *testing.T) {
	f, _ := newTestFactory(t)
	tr := buildTree(t, f)

	stray, err := f.New(KindField)
	require.NoError(t, err)
	assert.ErrorIs(t, tr.stack.AddChild(stray), ErrRejectedChildKind)
	f.Discard(stray)
	assert.True(t, stray.IsDestroyed())
	_, ok := f.Lookup(stray.ID())
	assert.False(t, ok)

	f.Discard(tr.field)
	assert.False(t, tr.field.IsDestroyed(), "mounted parts are kept")
}

func TestStrings(t *testing.T) {
	assert.Equal(t, []string{"a"}, Strings([]string{"a"}))
	assert.Equal(t, []string{"a", "b"}, Strings([]any{"a", 1.0, "b"}))
	assert.Nil(t, Strings(3))
}
