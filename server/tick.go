package server

import "time"

// StartTicker 启动房间的 Tick 循环（单线程推进世界）
func (r *Room) StartTicker() {
	if !r.tickerStarted.CompareAndSwap(false, true) {
		return
	}
	interval := time.Second / time.Duration(r.netcfg.TickRateHz) // 20 TPS 时为 50ms
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				r.shutdown()
				return
			case <-ticker.C:
				r.Tick()
			}
		}
	}()
}

// Stop 停止 Tick 循环并断开所有玩家
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	if r.tickerStarted.Load() {
		<-r.done
		return
	}
	r.shutdown()
}

func (r *Room) shutdown() {
	for id, p := range r.players {
		if p.Conn != nil {
			p.Conn.Close()
		}
		delete(r.players, id)
	}
	r.metrics.SetPlayers(0)
}
