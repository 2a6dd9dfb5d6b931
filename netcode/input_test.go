package netcode_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arenasync/netcode"
)

func TestSeq_WrapAwareOrdering(t *testing.T) {
	assert.True(t, netcode.Seq(1).Less(2))
	assert.True(t, netcode.Seq(65535).Less(0), "65535 precedes 0 after wrap")
	assert.True(t, netcode.Seq(65530).Less(4))
	assert.False(t, netcode.Seq(4).Less(65530))
	assert.True(t, netcode.Seq(7).LessEq(7))
	assert.Equal(t, 2, netcode.Seq(65535).Distance(1))
	assert.Equal(t, -2, netcode.Seq(1).Distance(65535))
}

func TestInputSequencer_RecordAssignsIncreasingSeqs(t *testing.T) {
	s := netcode.NewInputSequencer(8, 16)
	for i := 1; i <= 5; i++ {
		cmd, err := s.Record(uint32(i*10), netcode.Payload{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, netcode.Seq(i), cmd.Seq)
		assert.Equal(t, uint32(i*10), cmd.ClientTick)
	}
	assert.Equal(t, 5, s.Len())
	last, ok := s.LastIssued()
	assert.True(t, ok)
	assert.Equal(t, netcode.Seq(5), last)
}

func TestInputSequencer_AcknowledgeRemovesPrefix(t *testing.T) {
	s := netcode.NewInputSequencer(8, 16)
	for i := 0; i < 5; i++ {
		_, err := s.Record(0, netcode.Payload{})
		require.NoError(t, err)
	}

	n, err := s.Acknowledge(3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, netcode.Seq(4), pending[0].Seq)
	assert.Equal(t, netcode.Seq(5), pending[1].Seq)

	// 重复或更旧的确认不产生影响
	n, err = s.Acknowledge(2)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, s.Len())
}

func TestInputSequencer_AcknowledgeBeforeAnyInput(t *testing.T) {
	s := netcode.NewInputSequencer(4, 4)
	n, err := s.Acknowledge(0)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Acknowledge(3)
	assert.True(t, errors.Is(err, netcode.ErrProtocolViolation))
}

func TestInputSequencer_AcknowledgeNeverIssued(t *testing.T) {
	s := netcode.NewInputSequencer(8, 16)
	for i := 0; i < 3; i++ {
		_, _ = s.Record(0, netcode.Payload{})
	}
	_, err := s.Acknowledge(9)
	require.Error(t, err)
	assert.True(t, errors.Is(err, netcode.ErrProtocolViolation))
	assert.Equal(t, netcode.CodeProtocolViolation, netcode.CodeOf(err))
	assert.Equal(t, 3, s.Len(), "queue untouched by the sequencer itself")
}

func TestInputSequencer_AcknowledgeBeforeFirstIssued(t *testing.T) {
	s := netcode.NewInputSequencer(8, 16)
	for i := 0; i < 5; i++ {
		_, _ = s.Record(0, netcode.Payload{})
	}
	// 本次会话只发出过 1..5，更早的序列号同样从未发出
	for _, ack := range []netcode.Seq{0, 65535, 40000, 32769} {
		n, err := s.Acknowledge(ack)
		assert.True(t, errors.Is(err, netcode.ErrProtocolViolation), "ack %d", ack)
		assert.Zero(t, n)
		assert.Equal(t, 5, s.Len())
	}

	n, err := s.Acknowledge(1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Reset 后窗口从头开始
	s.Reset()
	_, _ = s.Record(0, netcode.Payload{})
	_, err = s.Acknowledge(5)
	assert.True(t, errors.Is(err, netcode.ErrProtocolViolation))
	_, err = s.Acknowledge(1)
	require.NoError(t, err)
}

func TestInputSequencer_OverflowReportsDesyncRiskWithoutDropping(t *testing.T) {
	s := netcode.NewInputSequencer(3, 8)
	for i := 0; i < 3; i++ {
		_, err := s.Record(0, netcode.Payload{byte(i)})
		require.NoError(t, err)
	}

	cmd, err := s.Record(0, netcode.Payload{3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, netcode.ErrDesyncRisk))
	assert.Equal(t, netcode.Seq(4), cmd.Seq)

	pending := s.Pending()
	require.Len(t, pending, 4)
	for i, c := range pending {
		assert.Equal(t, netcode.Seq(i+1), c.Seq)
		assert.Equal(t, byte(i), c.Payload[0])
	}
}

func TestInputSequencer_FullBufferRejects(t *testing.T) {
	s := netcode.NewInputSequencer(2, 3)
	for i := 0; i < 3; i++ {
		_, _ = s.Record(0, netcode.Payload{})
	}
	cmd, err := s.Record(0, netcode.Payload{})
	assert.True(t, errors.Is(err, netcode.ErrInputBufferFull))
	assert.True(t, errors.Is(err, netcode.ErrDesyncRisk), "buffer full is a desync risk too")
	assert.Equal(t, netcode.InputCommand{}, cmd)
	assert.Equal(t, 3, s.Len())

	// 确认后恢复记录，序列号不跳号
	_, err = s.Acknowledge(1)
	require.NoError(t, err)
	cmd, err = s.Record(0, netcode.Payload{})
	assert.True(t, errors.Is(err, netcode.ErrDesyncRisk))
	assert.Equal(t, netcode.Seq(4), cmd.Seq)
}

func TestInputSequencer_AcknowledgeAcrossWrap(t *testing.T) {
	s := netcode.NewInputSequencer(8, 16)
	// 推进到 65534
	for i := 0; i < 65534; i++ {
		cmd, err := s.Record(0, netcode.Payload{})
		require.NoError(t, err)
		_, err = s.Acknowledge(cmd.Seq)
		require.NoError(t, err)
	}
	var seqs []netcode.Seq
	for i := 0; i < 3; i++ {
		cmd, err := s.Record(0, netcode.Payload{})
		require.NoError(t, err)
		seqs = append(seqs, cmd.Seq)
	}
	assert.Equal(t, []netcode.Seq{65535, 0, 1}, seqs)

	n, err := s.Acknowledge(0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, netcode.Seq(1), pending[0].Seq)
}

func TestInputSequencer_Tail(t *testing.T) {
	s := netcode.NewInputSequencer(8, 8)
	for i := 0; i < 5; i++ {
		_, _ = s.Record(uint32(i), netcode.Payload{})
	}
	tail := s.Tail(3)
	require.Len(t, tail, 3)
	assert.Equal(t, netcode.Seq(3), tail[0].Seq)
	assert.Equal(t, netcode.Seq(5), tail[2].Seq)
	assert.Len(t, s.Tail(10), 5)
	assert.Nil(t, s.Tail(0))
}

func TestInputSequencer_Reset(t *testing.T) {
	s := netcode.NewInputSequencer(8, 8)
	for i := 0; i < 4; i++ {
		_, _ = s.Record(0, netcode.Payload{})
	}
	s.Reset()
	assert.Zero(t, s.Len())
	_, ok := s.LastIssued()
	assert.False(t, ok)
	cmd, err := s.Record(0, netcode.Payload{})
	require.NoError(t, err)
	assert.Equal(t, netcode.Seq(1), cmd.Seq)
}
