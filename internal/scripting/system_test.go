package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/simpletalk/kernel/internal/core/part"
	"github.com/simpletalk/kernel/internal/parts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type env struct {
	f      *part.Factory
	sys    *System
	logs   *observer.ObservedLogs
	world  *part.Part
	stack  *part.Part
	card   *part.Part
	button *part.Part
}

func newKernel(t *testing.T, libDir string, scripting bool) *env {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core)

	e := &env{f: part.NewFactory(log), logs: logs}
	parts.RegisterAll(e.f, &parts.Deps{Log: log})

	var eng *Engine
	if scripting {
		var err error
		eng, err = NewEngine(libDir, log)
		require.NoError(t, err)
		t.Cleanup(eng.Close)
	}
	e.sys = NewSystem(e.f, eng, log)
	return e
}

func newEnv(t *testing.T, libDir string, scripting bool) *env {
	t.Helper()
	e := newKernel(t, libDir, scripting)
	var err error
	e.world, err = e.f.New(part.KindWorld)
	require.NoError(t, err)
	e.stack = e.mount(t, e.world, part.KindStack)
	e.card = e.mount(t, e.stack, part.KindCard)
	e.button = e.mount(t, e.card, part.KindButton)
	return e
}

func (e *env) mount(t *testing.T, owner *part.Part, kind part.Kind) *part.Part {
	t.Helper()
	p, err := e.f.New(kind)
	require.NoError(t, err)
	require.NoError(t, owner.AddChild(p))
	return p
}

func (e *env) send(t *testing.T, msg message.Message, sender, target *part.Part) part.Result {
	t.Helper()
	res, err := e.f.Dispatcher().Send(msg, sender, target)
	require.NoError(t, err)
	return res
}

func get(t *testing.T, p *part.Part, name string) any {
	t.Helper()
	v, err := p.Get(name)
	require.NoError(t, err)
	return v
}

func TestScript_HandlesCommand(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.button.Set("script", `
function mouseUp(self)
  self:set("name", "clicked " .. self:id())
end
`))
	require.NotNil(t, e.button.Script())

	res := e.send(t, message.Command("mouseUp"), nil, e.button)
	assert.Equal(t, part.Handled, res.Outcome)
	assert.Equal(t, e.button.ID(), res.HandledBy)
	assert.Equal(t, "clicked "+e.button.ID(), get(t, e.button, "name"))
}

func TestScript_ArgumentsAndConversion(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.button.Set("script", `
function resize(self, w, h)
  self:set("width", w)
  self:set("height", h)
end
function tag(self)
  self:set("events", {"click", "hover"})
end
`))
	e.send(t, message.Command("resize", 10, 20.5), nil, e.button)
	assert.Equal(t, 10.0, get(t, e.button, "width"))
	assert.Equal(t, 20.5, get(t, e.button, "height"))

	e.send(t, message.Command("tag"), nil, e.button)
	assert.Equal(t, []string{"click", "hover"}, get(t, e.button, "events"), "lua tables take the declared list shape")
}

func TestScript_ReturnFalsePassesToOwner(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.card.Set("script", `function greet(self) self:set("name", "card saw it") end`))
	require.NoError(t, e.button.Set("script", `function greet(self) return false end`))

	res := e.send(t, message.Command("greet"), nil, e.button)
	assert.Equal(t, part.Handled, res.Outcome)
	assert.Equal(t, e.card.ID(), res.HandledBy)
	assert.Equal(t, "card saw it", get(t, e.card, "name"))
}

func TestScript_SendTravelsOwnChain(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.stack.Set("script", `function bump(self) self:set("name", "bumped") end`))
	require.NoError(t, e.button.Set("script", `
function mouseUp(self)
  local outcome = self:send("bump")
  self:set("name", outcome)
end
`))
	e.send(t, message.Command("mouseUp"), nil, e.button)
	assert.Equal(t, "bumped", get(t, e.stack, "name"))
	assert.Equal(t, "Handled", get(t, e.button, "name"))
}

func TestScript_LookupAndTell(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.card.Set("script", `function hello(self, who) self:set("name", "hello " .. who) end`))
	require.NoError(t, e.button.Set("script", `
function poke(self, id)
  self:tell(id, "hello", self:kind())
  lookup(id):set("left", 5)
end
`))
	e.send(t, message.Command("poke", e.card.ID()), nil, e.button)
	assert.Equal(t, "hello button", get(t, e.card, "name"))
	assert.Equal(t, 5.0, get(t, e.card, "left"))
}

func TestScript_DoesNotUnderstandReachesSenderScript(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.button.Set("script", `
function doesNotUnderstand(self, m)
  self:set("name", "missed " .. m.original)
end
`))
	res := e.send(t, message.Command("fly"), e.button, nil)
	assert.Equal(t, part.Unhandled, res.Outcome)
	require.NotNil(t, res.Notice)
	assert.Equal(t, "missed fly", get(t, e.button, "name"))
}

func TestScript_RuntimeErrorIsLoggedAndHandled(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.button.Set("script", `function boom(self) error("kaboom") end`))

	res := e.send(t, message.Command("boom"), nil, e.button)
	assert.Equal(t, part.Handled, res.Outcome)
	assert.Equal(t, 1, e.logs.FilterMessage("lua handler error").Len())
}

func TestScript_SetErrorSurfacesAsLuaError(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.button.Set("script", `
function bad(self)
  local ok = pcall(function() self:set("noSuchProperty", 1) end)
  self:set("name", tostring(ok))
end
`))
	e.send(t, message.Command("bad"), nil, e.button)
	assert.Equal(t, "false", get(t, e.button, "name"))
}

func TestScript_CompileErrorDropsHandlers(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.button.Set("script", `function mouseUp(self) end`))
	require.NotNil(t, e.button.Script())

	require.NoError(t, e.button.Set("script", `function (`))
	assert.Nil(t, e.button.Script())
	assert.Equal(t, 1, e.logs.FilterMessage("script compile failed").Len())

	res := e.send(t, message.Command("mouseUp"), nil, e.button)
	assert.Equal(t, part.Unhandled, res.Outcome)
}

func TestScript_ClearingScriptRemovesHandlers(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.button.Set("script", `function mouseUp(self) end`))
	require.NoError(t, e.button.Set("script", ""))
	assert.Nil(t, e.button.Script())
}

func TestScript_LibraryGlobals(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib.lua"),
		[]byte(`function double(x) return x * 2 end`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte(`not lua`), 0o644))

	e := newEnv(t, dir, true)
	require.NoError(t, e.button.Set("script", `function grow(self) self:set("width", double(21)) end`))
	e.send(t, message.Command("grow"), nil, e.button)
	assert.Equal(t, 42.0, get(t, e.button, "width"))
}

func TestScript_ScriptsAreIsolated(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.card.Set("script", `counter = 1 function mark(self) self:set("name", tostring(counter)) end`))
	require.NoError(t, e.button.Set("script", `function mark(self) self:set("name", tostring(counter)) end`))

	e.send(t, message.Command("mark"), nil, e.card)
	e.send(t, message.Command("mark"), nil, e.button)
	assert.Equal(t, "1", get(t, e.card, "name"))
	assert.Equal(t, "nil", get(t, e.button, "name"))
}

func TestScript_RestoredScriptsAreCompiled(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.button.Set("script", `function mouseUp(self) self:set("name", "restored") end`))
	data, err := part.Serialize(e.world)
	require.NoError(t, err)

	g := newKernel(t, "", true)
	world, err := g.f.Deserialize(data)
	require.NoError(t, err)
	btn, ok := g.f.Lookup(e.button.ID())
	require.True(t, ok)
	require.NotNil(t, btn.Script())
	g.send(t, message.Command("mouseUp"), nil, btn)
	assert.Equal(t, "restored", get(t, btn, "name"))
	assert.Equal(t, world, g.f.World())
}

func TestSystem_NewModel(t *testing.T) {
	e := newEnv(t, "", true)
	res := e.send(t, message.Command("newModel", "field", e.card.ID()), nil, e.card)
	assert.Equal(t, part.Forwarded, res.Outcome)
	subs := e.card.Subparts()
	require.Len(t, subs, 2)
	assert.Equal(t, part.KindField, subs[1].Kind())

	// Owner defaults to the sender.
	e.send(t, message.Command("newModel", "svg"), e.card, nil)
	assert.Len(t, e.card.Subparts(), 3)

	// Rejected kinds leave nothing behind.
	before := e.f.Len()
	res = e.send(t, message.Command("newModel", "field", e.stack.ID()), nil, e.stack)
	assert.Equal(t, part.Forwarded, res.Outcome)
	assert.Equal(t, before, e.f.Len())
	assert.Equal(t, 1, e.logs.FilterMessage("system command failed").Len())
}

func TestSystem_DeleteModel(t *testing.T) {
	e := newEnv(t, "", true)
	e.send(t, message.Command("deleteModel", e.button.ID()), nil, e.card)
	assert.Empty(t, e.card.Subparts())
	assert.True(t, e.button.IsDestroyed())
	_, ok := e.f.Lookup(e.button.ID())
	assert.False(t, ok)
}

func TestSystem_ScriptEditorAndSetProperty(t *testing.T) {
	e := newEnv(t, "", true)
	e.send(t, message.Command("openScriptEditor", e.button.ID()), nil, e.button)
	assert.Equal(t, true, get(t, e.button, "editorOpen"))
	e.send(t, message.Command("closeScriptEditor", e.button.ID()), nil, e.button)
	assert.Equal(t, false, get(t, e.button, "editorOpen"))

	e.send(t, message.Command("setProperty", e.button.ID(), "name", "OK"), nil, e.button)
	assert.Equal(t, "OK", get(t, e.button, "name"))

	e.send(t, message.Command("setProperty", e.button.ID(), "name"), nil, e.button)
	assert.Equal(t, 1, e.logs.FilterMessage("system command failed").Len())
}

func TestSystem_CommandFailureReachesSender(t *testing.T) {
	e := newEnv(t, "", true)
	require.NoError(t, e.button.Set("script", `
function error(self, m)
  self:set("name", m.error .. ": " .. m.message)
end
`))
	res := e.send(t, message.Command("setProperty", e.button.ID(), "noSuchProperty", 1), e.button, nil)
	assert.Equal(t, part.Forwarded, res.Outcome)
	assert.Contains(t, get(t, e.button, "name"), message.CommandFailed+": setProperty:")
	assert.Equal(t, 1, e.logs.FilterMessage("system command failed").Len())
	assert.Equal(t, 0, e.logs.FilterMessage("error reached the system").Len())

	// Without a handler the report climbs the chain and ends at the system.
	e.send(t, message.Command("deleteModel", "404"), e.card, nil)
	assert.Equal(t, 2, e.logs.FilterMessage("system command failed").Len())
	errs := e.logs.FilterMessage("error reached the system").All()
	require.Len(t, errs, 1)
	assert.Equal(t, message.CommandFailed, errs[0].ContextMap()["error"])
}

func TestSystem_UnknownCommandIsNotUnderstood(t *testing.T) {
	e := newEnv(t, "", true)
	res := e.send(t, message.Command("teleport"), nil, e.button)
	assert.Equal(t, part.Unhandled, res.Outcome)
	require.NotNil(t, res.Notice)

	e.sys.NotUnderstood(*res.Notice)
	assert.Equal(t, 1, e.logs.FilterMessage("message not understood").Len())
}

func TestSystem_ErrorMessagesAreAbsorbed(t *testing.T) {
	e := newEnv(t, "", true)
	res := e.send(t, message.Error("NetworkError", "down"), nil, e.stack)
	assert.Equal(t, part.Forwarded, res.Outcome)
	assert.Equal(t, 1, e.logs.FilterMessage("error reached the system").Len())
}

func TestSystem_ScriptingDisabled(t *testing.T) {
	e := newEnv(t, "", false)
	require.NoError(t, e.button.Set("script", `function mouseUp(self) end`))
	assert.Nil(t, e.button.Script())
	assert.Equal(t, `function mouseUp(self) end`, get(t, e.button, "script"))

	res := e.send(t, message.Command("mouseUp"), nil, e.button)
	assert.Equal(t, part.Unhandled, res.Outcome)
}
