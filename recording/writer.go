package recording

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"arenasync/protocol"
	"arenasync/sim"
)

// Entry kinds.
const (
	KindHeader     = "header"
	KindInput      = "input"
	KindSnapshot   = "snapshot"
	KindDisconnect = "disconnect"
)

// Entry 一行 JSONL。Predicted 为该事件处理后的本地预测状态。
type Entry struct {
	Kind      string                 `json:"kind"`
	AtMs      int64                  `json:"at_ms"`
	Header    *Header                `json:"header,omitempty"`
	Input     *protocol.InputCommand `json:"input,omitempty"`
	Snapshot  *protocol.SnapshotMsg  `json:"snapshot,omitempty"`
	Predicted *sim.Body              `json:"predicted,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Header 重放所需的会话参数，取自 WELCOME
type Header struct {
	PlayerID string                 `json:"player_id"`
	EntityID string                 `json:"entity_id"`
	Codec    string                 `json:"codec"`
	World    protocol.WorldParams   `json:"world"`
	Netcode  protocol.NetcodeParams `json:"netcode"`
}

// Writer 以 zstd 压缩的 JSONL 记录一次会话
type Writer struct {
	mu    sync.Mutex
	start time.Time
	now   func() time.Time
	f     *os.File
	enc   *zstd.Encoder
	w     *bufio.Writer
}

func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{
		start: time.Now(),
		now:   time.Now,
		f:     f,
		enc:   enc,
		w:     bufio.NewWriterSize(enc, 128*1024),
	}, nil
}

// Write 追加一条记录，AtMs 为零时按会话起点补齐
func (w *Writer) Write(e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return os.ErrClosed
	}
	if e.AtMs == 0 {
		e.AtMs = w.now().Sub(w.start).Milliseconds()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	err1 := w.w.Flush()
	err2 := w.enc.Close()
	err3 := w.f.Close()
	w.w, w.enc, w.f = nil, nil, nil
	for _, err := range []error{err1, err2, err3} {
		if err != nil {
			return err
		}
	}
	return nil
}
