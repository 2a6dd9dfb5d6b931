package netcode_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arenasync/netcode"
	"arenasync/sim"
)

type reconcileFixture struct {
	world  sim.World
	inputs *netcode.InputSequencer
	pred   netcode.Predictor
	rec    *netcode.Reconciler
}

func newReconcileFixture() *reconcileFixture {
	w := sim.DefaultWorld()
	inputs := netcode.NewInputSequencer(16, 32)
	pred := netcode.NewPredictor(w.Stepper())
	rec := netcode.NewReconciler(local, inputs, pred, zap.NewNop())
	rec.SetPredicted(w.Spawn())
	return &reconcileFixture{world: w, inputs: inputs, pred: pred, rec: rec}
}

func (f *reconcileFixture) record(dirs ...sim.Direction) []netcode.InputCommand {
	var out []netcode.InputCommand
	for _, d := range dirs {
		cmd, err := f.inputs.Record(0, sim.EncodeControl(d))
		if err != nil {
			panic(err)
		}
		f.rec.SetPredicted(f.pred.ApplyLocally(f.rec.Predicted(), cmd))
		out = append(out, cmd)
	}
	return out
}

func TestReconciler_EmptyQueueCommitsRawSnapshot(t *testing.T) {
	f := newReconcileFixture()
	res, err := f.rec.Reconcile(snap(1, map[netcode.EntityID]sim.Body{local: at(10, 20)}))
	require.NoError(t, err)
	assert.Zero(t, res.Replayed)
	assert.Equal(t, at(10, 20), res.Corrected)
	assert.Equal(t, at(10, 20), f.rec.Predicted())
}

func TestReconciler_ReplaysUnacknowledgedInOrder(t *testing.T) {
	f := newReconcileFixture()
	cmds := f.record(sim.DirRight, sim.DirRight, sim.DirDown, sim.DirLeft, sim.DirDown)

	server := at(30, 30)
	res, err := f.rec.Reconcile(acked(snap(7, map[netcode.EntityID]sim.Body{local: server}), 2))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Acknowledged)
	assert.Equal(t, 3, res.Replayed)

	want := f.pred.Replay(server, cmds[2:])
	assert.True(t, want.Equal(res.Corrected))
	assert.Equal(t, sim.Body{X: 29, Y: 32, VX: 0, VY: 1}, res.Corrected)
	assert.Equal(t, 3, f.inputs.Len())
}

func TestReconciler_StaleSnapshotLeavesStateUnchanged(t *testing.T) {
	f := newReconcileFixture()
	_, err := f.rec.Reconcile(snap(5, map[netcode.EntityID]sim.Body{local: at(1, 1)}))
	require.NoError(t, err)
	f.record(sim.DirUp)
	before := f.rec.Predicted()

	for _, tick := range []uint32{5, 4, 0} {
		_, err := f.rec.Reconcile(acked(snap(tick, map[netcode.EntityID]sim.Body{local: at(99, 99)}), 1))
		assert.True(t, errors.Is(err, netcode.ErrStaleSnapshot), "tick %d", tick)
		assert.Equal(t, before, f.rec.Predicted())
	}
	assert.Equal(t, 1, f.inputs.Len(), "stale snapshot must not acknowledge inputs")
	last, _ := f.rec.LastTick()
	assert.Equal(t, uint32(5), last)
}

func TestReconciler_IdempotentForIdenticalSnapshot(t *testing.T) {
	f := newReconcileFixture()
	f.record(sim.DirLeft, sim.DirLeft)
	s := acked(snap(3, map[netcode.EntityID]sim.Body{local: at(49, 50)}), 1)

	first, err := f.rec.Reconcile(s)
	require.NoError(t, err)
	committed := f.rec.Predicted()

	_, err = f.rec.Reconcile(s)
	assert.True(t, errors.Is(err, netcode.ErrStaleSnapshot))
	assert.Equal(t, committed, f.rec.Predicted())
	assert.Equal(t, first.Corrected, f.rec.Predicted())
}

func TestReconciler_ProtocolViolationResetsQueue(t *testing.T) {
	f := newReconcileFixture()
	f.record(sim.DirUp, sim.DirUp)

	res, err := f.rec.Reconcile(acked(snap(2, map[netcode.EntityID]sim.Body{local: at(5, 5)}), 40))
	require.Error(t, err)
	assert.True(t, errors.Is(err, netcode.ErrProtocolViolation))
	assert.Zero(t, f.inputs.Len())
	assert.Zero(t, res.Replayed)
	assert.Equal(t, at(5, 5), f.rec.Predicted())

	// 之后的快照照常前进
	f.record(sim.DirDown)
	res, err = f.rec.Reconcile(acked(snap(3, map[netcode.EntityID]sim.Body{local: at(5, 5)}), 2))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replayed)
}

func TestReconciler_AckOlderThanSessionIsViolation(t *testing.T) {
	f := newReconcileFixture()
	f.record(sim.DirUp, sim.DirUp, sim.DirUp, sim.DirUp, sim.DirUp)

	res, err := f.rec.Reconcile(acked(snap(1, map[netcode.EntityID]sim.Body{local: at(5, 5)}), 40000))
	require.Error(t, err)
	assert.True(t, errors.Is(err, netcode.ErrProtocolViolation))
	assert.Zero(t, f.inputs.Len())
	assert.Zero(t, res.Replayed)
	assert.Equal(t, at(5, 5), f.rec.Predicted())
}

func TestReconciler_MissingLocalEntity(t *testing.T) {
	f := newReconcileFixture()
	f.record(sim.DirUp, sim.DirUp)
	before := f.rec.Predicted()

	res, err := f.rec.Reconcile(acked(snap(1, map[netcode.EntityID]sim.Body{"bob": at(1, 1)}), 1))
	assert.True(t, errors.Is(err, netcode.ErrEntityMissing))
	assert.Equal(t, 1, res.Acknowledged)
	assert.Equal(t, before, f.rec.Predicted())
	assert.Equal(t, 1, f.inputs.Len())
}
