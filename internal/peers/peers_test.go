package peers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasdatatech/tileserver/internal/metatile"
)

func TestNewSnapshotSortsByAddr(t *testing.T) {
	raw := map[string]string{
		"10.0.0.3:80": "10.0.0.3:80",
		"10.0.0.1:80": "10.0.0.1:80",
		"10.0.0.2:80": "10.0.0.2:80",
	}
	snap := newSnapshot(raw, "10.0.0.2:80")
	require.Len(t, snap.Entries, 3)
	assert.Equal(t, "10.0.0.1:80", snap.Entries[0].Addr)
	assert.Equal(t, "10.0.0.2:80", snap.Entries[1].Addr)
	assert.Equal(t, "10.0.0.3:80", snap.Entries[2].Addr)
	assert.True(t, snap.Entries[1].Self)
	assert.False(t, snap.Entries[0].Self)
}

func TestSnapshotTargetShardsByXorMod(t *testing.T) {
	snap := &Snapshot{Entries: []Entry{{Addr: "a"}, {Addr: "b"}, {Addr: "c"}}}
	lt := metatile.TileID{X: 5, Y: 3, Z: 8}
	want := (5 ^ 3) % 3

	target, ok := snap.Target(lt)
	require.True(t, ok)
	assert.Equal(t, snap.Entries[want].Addr, target.Addr)
}

func TestSnapshotTargetEmptyFails(t *testing.T) {
	snap := &Snapshot{}
	_, ok := snap.Target(metatile.TileID{X: 1, Y: 1, Z: 1})
	assert.False(t, ok)
}

func TestNewDirectorySanitizesSelfKey(t *testing.T) {
	d := New(nil, "/nodes", "10.0.0.1:8080", 0)
	assert.Equal(t, "/nodes/10.0.0.1_8080", d.selfKey)
}
