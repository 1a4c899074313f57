package server

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/gthreads/pkg/model"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireRuntime(w, reqID) {
		return
	}
	st := s.rt.Stats()
	cfg := s.rt.Config()

	tick := "off"
	if cfg.TickInterval > 0 {
		tick = cfg.TickInterval.String()
	}
	respondOK(w, reqID, model.StatsView{
		Switches:        st.Switches,
		Yields:          st.Yields,
		Preemptions:     st.Preemptions,
		Spawned:         st.Spawned,
		Exited:          st.Exited,
		Tasks:           st.Tasks,
		ReadyListLen:    st.ReadyListLen,
		StackBytesInUse: st.StackBytesInUse,
		StackInUse:      humanize.IBytes(uint64(st.StackBytesInUse)),
		StackSize:       humanize.IBytes(uint64(cfg.StackSize)),
		Tick:            tick,
		Uptime:          st.Uptime.Round(time.Millisecond).String(),
	})
}
