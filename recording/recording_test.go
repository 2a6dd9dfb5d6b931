package recording

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenasync/netcode"
	"arenasync/protocol"
	"arenasync/sim"
)

// recordSession 驱动一个真实的网络核心，并由简化的服务端每三个输入回一个快照
func recordSession(t *testing.T) []Entry {
	t.Helper()
	world := sim.DefaultWorld()
	cfg := netcode.DefaultConfig()
	header := Header{
		PlayerID: "alice",
		EntityID: "alice",
		Codec:    protocol.CodecJSON,
		World: protocol.WorldParams{
			TickRateHz: cfg.TickRateHz, Width: world.Width, Height: world.Height, Step: world.Step,
			Spawn: protocol.Vec2{X: world.Spawn().X, Y: world.Spawn().Y},
		},
		Netcode: protocol.NetcodeParamsFrom(cfg, 4),
	}
	c, err := netcode.NewClient(cfg, "alice", world.Spawn(), world.Stepper())
	require.NoError(t, err)

	entries := []Entry{{Kind: KindHeader, AtMs: 1, Header: &header}}
	var server netcode.EntityState = world.Spawn()
	var unprocessed []netcode.InputCommand
	dirs := []sim.Direction{sim.DirRight, sim.DirRight, sim.DirDown, sim.DirLeft, sim.DirUp, sim.DirDown}
	for i := 0; i < 30; i++ {
		cmd, st, err := c.ApplyInput(sim.EncodeControl(dirs[i%len(dirs)]))
		require.NoError(t, err)
		wire := protocol.CommandsToWire([]netcode.InputCommand{cmd})[0]
		body := st.(sim.Body)
		entries = append(entries, Entry{Kind: KindInput, AtMs: int64(len(entries) + 1), Input: &wire, Predicted: &body})
		unprocessed = append(unprocessed, cmd)

		if i%3 == 2 {
			// 服务端落后一个输入，客户端需要重放
			n := len(unprocessed) - 1
			for _, u := range unprocessed[:n] {
				server = world.Advance(server, u)
			}
			ack := unprocessed[n-1].Seq
			unprocessed = unprocessed[n:]
			msg := protocol.SnapshotToWire(netcode.Snapshot{
				Tick:               uint32(i),
				Entities:           map[netcode.EntityID]netcode.EntityState{"alice": server, "bob": sim.Body{X: float64(i)}},
				LastProcessedInput: ack,
				HasAck:             true,
			})
			_, err := c.OnSnapshot(protocol.SnapshotFromWire(msg))
			require.NoError(t, err)
			p := c.Predicted().(sim.Body)
			entries = append(entries, Entry{Kind: KindSnapshot, AtMs: int64(len(entries) + 1), Snapshot: &msg, Predicted: &p})
		}
	}
	return entries
}

func TestWriterReader_RoundTrip(t *testing.T) {
	entries := recordSession(t)
	path := filepath.Join(t.TempDir(), "rec", "session.jsonl.zst")

	w, err := Create(path)
	require.NoError(t, err)
	for _, e := range entries {
		require.NoError(t, w.Write(e))
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.Write(Entry{Kind: KindInput}))

	got, err := ReadAll(path)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestVerify_ReproducesRecordedPredictions(t *testing.T) {
	entries := recordSession(t)
	res, err := Verify(entries, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Mismatches)
	assert.Equal(t, 30, res.Inputs)
	assert.Equal(t, 10, res.Snapshots)
	assert.Equal(t, *entries[len(entries)-1].Predicted, res.Final)
	assert.Len(t, res.Digest, 64)
}

func TestReplay_ReportsDivergence(t *testing.T) {
	entries := recordSession(t)
	tampered := *entries[5].Predicted
	tampered.X += 1
	entries[5].Predicted = &tampered

	res, err := Replay(entries, nil)
	require.NoError(t, err)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, 5, res.Mismatches[0].Index)
	assert.Equal(t, tampered, res.Mismatches[0].Want)
}

func TestReplay_DisconnectResets(t *testing.T) {
	entries := recordSession(t)
	entries = append(entries, Entry{Kind: KindDisconnect})
	res, err := Replay(entries, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Disconnects)
	assert.Equal(t, sim.DefaultWorld().Spawn(), res.Final)
}

func TestReplay_RequiresHeader(t *testing.T) {
	_, err := Replay([]Entry{{Kind: KindInput}}, nil)
	assert.Error(t, err)
}
