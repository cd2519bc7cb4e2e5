package part

import (
	"github.com/goccy/go-json"
	"github.com/simpletalk/kernel/internal/core/message"
)

// PartSnapshot is the serialized form of one part. Children are referenced
// by id and appear later in the enclosing Snapshot.
type PartSnapshot struct {
	Type       Kind           `json:"type"`
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	Subparts   []string       `json:"subparts"`
	OwnerID    *string        `json:"ownerId"`

	// world only
	LoadedStacks []string `json:"loadedStacks,omitempty"`
	CurrentStack *string  `json:"currentStack,omitempty"`
}

// Snapshot is a subtree in depth-first pre-order; Parts[0] is its root.
type Snapshot struct {
	Parts []PartSnapshot `json:"parts"`
}

// Snapshot captures p alone.
func (p *Part) Snapshot() PartSnapshot {
	s := PartSnapshot{
		Type:       p.Kind(),
		ID:         p.id,
		Properties: p.props.Values(),
		Subparts:   make([]string, 0, len(p.subparts)),
	}
	for _, c := range p.subparts {
		s.Subparts = append(s.Subparts, c.id)
	}
	if p.owner != nil {
		owner := p.owner.id
		s.OwnerID = &owner
	}
	if dec, ok := p.behavior.(SnapshotDecorator); ok {
		dec.DecorateSnapshot(p, &s)
	}
	return s
}

// SnapshotTree captures root and its subtree in pre-order.
func SnapshotTree(root *Part) Snapshot {
	var snap Snapshot
	var walk func(p *Part)
	walk = func(p *Part) {
		snap.Parts = append(snap.Parts, p.Snapshot())
		for _, c := range p.subparts {
			walk(c)
		}
	}
	walk(root)
	return snap
}

// Serialize encodes root's subtree as JSON.
func Serialize(root *Part) ([]byte, error) {
	return json.MarshalIndent(SnapshotTree(root), "", "    ")
}

// Deserialize decodes a snapshot and rebuilds its tree with the original
// ids. It is all-or-nothing: on ErrMalformedSnapshot no part stays
// registered. The returned root is unmounted, except for a world root
// which is the factory's new world. Parts with a script are compiled once
// the whole tree is built; Restorer behaviors run after that.
func (f *Factory) Deserialize(data []byte) (*Part, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, malformedf("decode: %v", err)
	}
	return f.Restore(snap)
}

// Restore rebuilds an already decoded snapshot. See Deserialize.
func (f *Factory) Restore(snap Snapshot) (*Part, error) {
	if len(snap.Parts) == 0 {
		return nil, malformedf("no parts")
	}
	index := make(map[string]*PartSnapshot, len(snap.Parts))
	for i := range snap.Parts {
		ps := &snap.Parts[i]
		if ps.ID == "" {
			return nil, malformedf("part %d has no id", i)
		}
		if _, dup := index[ps.ID]; dup {
			return nil, malformedf("duplicate id %s", ps.ID)
		}
		if !ps.Type.Valid() {
			return nil, malformedf("part %s has invalid kind %q", ps.ID, ps.Type)
		}
		index[ps.ID] = ps
	}

	var created []*Part
	used := make(map[string]bool, len(index))
	var build func(id string) (*Part, error)
	build = func(id string) (*Part, error) {
		if used[id] {
			return nil, malformedf("subpart %s referenced twice", id)
		}
		used[id] = true
		ps, ok := index[id]
		if !ok {
			return nil, malformedf("missing subpart %s", id)
		}
		p, err := f.restore(ps.Type, ps.ID)
		if err != nil {
			return nil, malformedf("restore %s: %v", id, err)
		}
		created = append(created, p)
		for name, v := range ps.Properties {
			if err := p.props.Load(name, v); err != nil {
				return nil, malformedf("part %s property %s: %v", id, name, err)
			}
		}
		for _, cid := range ps.Subparts {
			c, err := build(cid)
			if err != nil {
				return nil, err
			}
			if err := p.AddChild(c); err != nil {
				return nil, malformedf("attach %s to %s: %v", cid, id, err)
			}
		}
		return p, nil
	}

	root, err := build(snap.Parts[0].ID)
	if err == nil && len(used) != len(index) {
		err = malformedf("%d parts unreachable from %s", len(index)-len(used), snap.Parts[0].ID)
	}
	if err != nil {
		for _, p := range created {
			f.unregister(p)
		}
		return nil, err
	}

	for _, p := range created {
		if src, _ := p.props.Get("script"); src != nil && src != "" {
			s, _ := src.(string)
			f.dispatcher.ToSystem(message.Compile(s, p.id).From(p.id))
		}
	}
	for _, p := range created {
		if r, ok := p.behavior.(Restorer); ok {
			r.Restored(p)
		}
	}
	return root, nil
}
