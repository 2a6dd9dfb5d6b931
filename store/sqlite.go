package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Verdict 一次命中声明的判定结果
type Verdict struct {
	ClaimID         string    `json:"claim_id"`
	PlayerID        string    `json:"player_id"`
	Target          string    `json:"target"`
	ObservationTick float64   `json:"observation_tick"`
	ServerTick      uint32    `json:"server_tick"`
	Accepted        bool      `json:"accepted"`
	Code            string    `json:"code,omitempty"`
	Distance        float64   `json:"distance"`
	At              time.Time `json:"at"`
}

// VerdictStore 命中判定审计表。写入由单独的 goroutine 串行完成，
// 队列满时丢弃，不阻塞房间 Tick。
type VerdictStore struct {
	db  *sql.DB
	log *zap.Logger

	ch   chan Verdict
	wg   sync.WaitGroup
	once sync.Once

	// mu 让入队与关闭 ch 互斥
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	written atomic.Uint64
}

func Open(path string, queueSize int, log *zap.Logger) (*VerdictStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store: empty db path")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &VerdictStore{db: db, log: log, ch: make(chan Verdict, queueSize)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS verdicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		claim_id TEXT NOT NULL,
		player_id TEXT NOT NULL,
		target TEXT NOT NULL,
		observation_tick REAL NOT NULL,
		server_tick INTEGER NOT NULL,
		accepted INTEGER NOT NULL,
		code TEXT NOT NULL,
		distance REAL NOT NULL,
		at_unix_ms INTEGER NOT NULL
	);`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS verdicts_player ON verdicts(player_id, id);`)
	return err
}

// Record 非阻塞入队
func (s *VerdictStore) Record(v Verdict) {
	if s == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- v:
	default:
		s.dropped.Add(1)
	}
}

// Dropped 因队列满而丢弃的条数
func (s *VerdictStore) Dropped() uint64 { return s.dropped.Load() }

// Written 已写入的条数
func (s *VerdictStore) Written() uint64 { return s.written.Load() }

func (s *VerdictStore) loop() {
	insert, err := s.db.Prepare(`INSERT INTO verdicts(claim_id,player_id,target,observation_tick,server_tick,accepted,code,distance,at_unix_ms) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Error("store: prepare insert", zap.Error(err))
		for range s.ch {
			s.dropped.Add(1)
		}
		return
	}
	defer insert.Close()

	for v := range s.ch {
		accepted := 0
		if v.Accepted {
			accepted = 1
		}
		if _, err := insert.Exec(v.ClaimID, v.PlayerID, v.Target, v.ObservationTick, int64(v.ServerTick),
			accepted, v.Code, v.Distance, v.At.UnixMilli()); err != nil {
			s.log.Warn("store: insert verdict", zap.String("claim", v.ClaimID), zap.Error(err))
			continue
		}
		s.written.Add(1)
	}
}

// Recent 按写入倒序返回最近 limit 条，player 为空时不过滤
func (s *VerdictStore) Recent(ctx context.Context, player string, limit int) ([]Verdict, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT claim_id,player_id,target,observation_tick,server_tick,accepted,code,distance,at_unix_ms FROM verdicts`
	args := []any{}
	if player != "" {
		q += ` WHERE player_id=?`
		args = append(args, player)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Verdict
	for rows.Next() {
		var (
			v        Verdict
			tick     int64
			accepted int
			atMs     int64
		)
		if err := rows.Scan(&v.ClaimID, &v.PlayerID, &v.Target, &v.ObservationTick, &tick, &accepted, &v.Code, &v.Distance, &atMs); err != nil {
			return nil, err
		}
		v.ServerTick = uint32(tick)
		v.Accepted = accepted == 1
		v.At = time.UnixMilli(atMs).UTC()
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close 写完队列中剩余的判定后关闭数据库
func (s *VerdictStore) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
