package tcp

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/panjf2000/gnet/v2"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/common"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/tenants"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/ttl"
)

type PomaiServer struct {
	gnet.BuiltinEventEngine

	tenants *tenants.Manager
	logger  *log.Logger
	addr    string

	mu  sync.Mutex
	eng gnet.Engine

	connections   atomic.Int64
	totalRequests atomic.Uint64
	totalErrors   atomic.Uint64
	totalBytes    atomic.Uint64

	started   atomic.Bool
	startTime time.Time

	multicore    bool
	numEventLoop int
	reusePort    bool
	statsEvery   time.Duration
}

type connCtx struct {
	tenantID string
	reqCount uint64
	created  int64
}

func NewPomaiServer(tm *tenants.Manager, logger *log.Logger) *PomaiServer {
	numLoops := runtime.NumCPU()
	if numLoops < 2 {
		numLoops = 2
	}
	if numLoops > 16 {
		numLoops = 16
	}
	if logger == nil {
		logger = log.Default()
	}

	return &PomaiServer{
		tenants:      tm,
		logger:       logger.WithPrefix("tcp"),
		multicore:    true,
		numEventLoop: numLoops,
		reusePort:    true,
		statsEvery:   30 * time.Second,
	}
}

// ListenAndServe blocks until Shutdown stops the engine.
func (s *PomaiServer) ListenAndServe(addr string) error {
	s.addr = addr
	s.startTime = time.Now()

	s.logger.Info("starting gnet server", "addr", addr, "event_loops", s.numEventLoop, "multicore", s.multicore)

	return gnet.Run(s, "tcp://"+addr,
		gnet.WithMulticore(s.multicore),
		gnet.WithReusePort(s.reusePort),
		gnet.WithTCPKeepAlive(time.Minute),
		gnet.WithTCPNoDelay(gnet.TCPNoDelay),
		gnet.WithReadBufferCap(256*1024),
		gnet.WithWriteBufferCap(256*1024),
		gnet.WithNumEventLoop(s.numEventLoop),
		gnet.WithTicker(true),
		gnet.WithSocketRecvBuffer(512*1024),
		gnet.WithSocketSendBuffer(512*1024),
		gnet.WithLoadBalancing(gnet.LeastConnections),
	)
}

func (s *PomaiServer) OnBoot(eng gnet.Engine) gnet.Action {
	s.mu.Lock()
	s.eng = eng
	s.mu.Unlock()
	s.started.Store(true)
	s.logger.Info("server booted")
	return gnet.None
}

func (s *PomaiServer) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	s.connections.Add(1)
	c.SetContext(&connCtx{
		tenantID: "default",
		created:  time.Now().UnixNano(),
	})
	return nil, gnet.None
}

func (s *PomaiServer) OnClose(c gnet.Conn, err error) gnet.Action {
	s.connections.Add(-1)
	if err != nil {
		s.totalErrors.Add(1)
	}
	return gnet.None
}

func (s *PomaiServer) OnTraffic(c gnet.Conn) gnet.Action {
	buf, err := c.Peek(-1)
	if err != nil {
		s.totalErrors.Add(1)
		return gnet.Close
	}

	cc, _ := c.Context().(*connCtx)
	if cc == nil {
		cc = &connCtx{tenantID: "default"}
		c.SetContext(cc)
	}

	var out []byte
	processed := 0

	for {
		op, keyLen, valLen, ok, err := parseHeader(buf)
		if err != nil {
			s.totalErrors.Add(1)
			out, _ = AppendFrame(out, StatusInvalidRequest, "", []byte(err.Error()))
			_ = c.AsyncWrite(out, nil)
			return gnet.Close
		}
		if !ok {
			break
		}

		size := HeaderSize + keyLen + valLen
		if len(buf) < size {
			break
		}

		key := string(buf[HeaderSize : HeaderSize+keyLen])
		var value []byte
		if valLen > 0 {
			value = make([]byte, valLen)
			copy(value, buf[HeaderSize+keyLen:size])
		}

		s.totalRequests.Add(1)
		s.totalBytes.Add(uint64(size))
		cc.reqCount++

		status, resp := s.handle(cc, op, key, value)
		if status != StatusOK && status != StatusKeyNotFound {
			s.totalErrors.Add(1)
		}
		out, _ = AppendFrame(out, status, "", resp)

		buf = buf[size:]
		processed += size
	}

	if processed > 0 {
		_, _ = c.Discard(processed)
	}
	if len(out) > 0 {
		_ = c.AsyncWrite(out, nil)
	}
	return gnet.None
}

// handle executes one request for the connection's tenant.
func (s *PomaiServer) handle(cc *connCtx, op uint8, key string, value []byte) (uint8, []byte) {
	if op == OpSelectTenant {
		if key == "" {
			return StatusInvalidRequest, []byte("empty tenant id")
		}
		if _, err := s.tenants.Get(key); err != nil {
			return errorReply(err)
		}
		cc.tenantID = key
		return StatusOK, []byte("OK")
	}

	t, err := s.tenants.Get(cc.tenantID)
	if err != nil {
		return StatusServerError, []byte(err.Error())
	}
	if op != OpStats && key == "" {
		return StatusInvalidRequest, []byte("empty key")
	}
	if t.External && !engineOp(op) {
		return StatusUnsupported, []byte("collections of this tenant live in the external store")
	}

	store := t.Store
	switch op {
	case OpGet:
		v, ok, err := store.Get(key)
		if err != nil {
			return errorReply(err)
		}
		if !ok {
			return StatusKeyNotFound, nil
		}
		return StatusOK, v
	case OpSet:
		if err := store.Put(key, value); err != nil {
			return errorReply(err)
		}
		return StatusOK, []byte("OK")
	case OpDel:
		return StatusOK, boolReply(store.Delete(key))
	case OpExists:
		return StatusOK, boolReply(store.Exists(key))
	case OpType:
		return StatusOK, []byte(store.Type(key))
	case OpStats:
		return s.handleStats(t)

	case OpHSet:
		var req struct {
			Field string `json:"field"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(value, &req); err != nil {
			return StatusInvalidRequest, []byte("invalid json")
		}
		created, err := store.HSet(key, req.Field, []byte(req.Value))
		if err != nil {
			return errorReply(err)
		}
		return StatusOK, boolReply(created)
	case OpHGet:
		v, ok, err := store.HGet(key, string(value))
		if err != nil {
			return errorReply(err)
		}
		if !ok {
			return StatusKeyNotFound, nil
		}
		return StatusOK, v
	case OpHDel:
		return intReply(store.HDel(key, string(value)))
	case OpHLen:
		return intReply(store.HLen(key))
	case OpHGetAll:
		all, err := store.HGetAll(key)
		if err != nil {
			return errorReply(err)
		}
		fields := make(map[string]string, len(all))
		for f, v := range all {
			fields[f] = string(v)
		}
		return jsonReply(fields)

	case OpSAdd:
		return intReply(store.SAdd(key, string(value)))
	case OpSRem:
		return intReply(store.SRem(key, string(value)))
	case OpSIsMember:
		ok, err := store.SIsMember(key, string(value))
		if err != nil {
			return errorReply(err)
		}
		return StatusOK, boolReply(ok)
	case OpSCard:
		return intReply(store.SCard(key))
	case OpSMembers:
		members, err := store.SMembers(key)
		if err != nil {
			return errorReply(err)
		}
		return jsonReply(members)

	case OpZAdd:
		var req struct {
			Score  float64 `json:"score"`
			Member string  `json:"member"`
		}
		if err := json.Unmarshal(value, &req); err != nil {
			return StatusInvalidRequest, []byte("invalid json")
		}
		created, err := store.ZAdd(key, req.Score, req.Member)
		if err != nil {
			return errorReply(err)
		}
		return StatusOK, boolReply(created)
	case OpZRem:
		return intReply(store.ZRem(key, string(value)))
	case OpZScore:
		score, ok, err := store.ZScore(key, string(value))
		if err != nil {
			return errorReply(err)
		}
		if !ok {
			return StatusKeyNotFound, nil
		}
		return StatusOK, []byte(strconv.FormatFloat(score, 'f', -1, 64))
	case OpZRank:
		rank, err := store.ZRank(key, string(value))
		if err != nil {
			return errorReply(err)
		}
		if rank < 0 {
			return StatusKeyNotFound, nil
		}
		return StatusOK, []byte(strconv.Itoa(rank))
	case OpZRange:
		var req struct {
			Start int `json:"start"`
			Stop  int `json:"stop"`
		}
		if err := json.Unmarshal(value, &req); err != nil {
			return StatusInvalidRequest, []byte("invalid json")
		}
		items, err := store.ZRange(key, req.Start, req.Stop)
		if err != nil {
			return errorReply(err)
		}
		return jsonReply(items)
	case OpZCard:
		return intReply(store.ZCard(key))

	case OpExpireMember:
		return s.handleExpireMember(t, key, value)
	case OpTTLMember:
		remain, ok := t.TTL.TTLRemaining(key, string(value))
		if !ok {
			return StatusKeyNotFound, nil
		}
		return StatusOK, []byte(strconv.FormatInt(remain.Milliseconds(), 10))
	}

	return StatusInvalidRequest, []byte("unknown command")
}

// engineOp reports whether op only talks to the expiration engine.
func engineOp(op uint8) bool {
	switch op {
	case OpExpireMember, OpTTLMember, OpStats:
		return true
	}
	return false
}

// ExpireMemberRequest is the OpExpireMember payload.
type ExpireMemberRequest struct {
	Member string `json:"member"`
	TTL    *int64 `json:"ttl"`
	Unit   string `json:"unit,omitempty"`
}

func (s *PomaiServer) handleExpireMember(t *tenants.Tenant, key string, payload []byte) (uint8, []byte) {
	var req ExpireMemberRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return StatusInvalidRequest, []byte("invalid json")
	}
	if req.TTL == nil {
		return StatusInvalidRequest, []byte("ttl is required")
	}
	unit, err := ttl.ParseUnit(req.Unit)
	if err != nil {
		return errorReply(err)
	}

	st, err := t.TTL.Expire(key, req.Member, *req.TTL, unit)
	if err != nil {
		return errorReply(err)
	}
	return StatusOK, []byte(strconv.Itoa(int(st)))
}

func (s *PomaiServer) handleStats(t *tenants.Tenant) (uint8, []byte) {
	return jsonReply(map[string]any{
		"tenant": t.ID,
		"store":  t.Store.Stats(),
		"ttl":    t.TTL.Stats(),
		"server": s.Stats(),
	})
}

func errorReply(err error) (uint8, []byte) {
	return statusFor(err), []byte(err.Error())
}

// statusFor maps engine errors to protocol status codes.
func statusFor(err error) uint8 {
	switch {
	case errors.Is(err, common.ErrWrongType):
		return StatusWrongType
	case errors.Is(err, common.ErrEmptyKey),
		errors.Is(err, tenants.ErrInvalidTenant),
		errors.Is(err, common.ErrEmptyMember),
		errors.Is(err, ttl.ErrInvalidTTL),
		errors.Is(err, ttl.ErrInvalidUnit):
		return StatusInvalidRequest
	}
	return StatusServerError
}

func boolReply(b bool) []byte {
	if b {
		return []byte("1")
	}
	return []byte("0")
}

func intReply(n int, err error) (uint8, []byte) {
	if err != nil {
		return errorReply(err)
	}
	return StatusOK, []byte(strconv.Itoa(n))
}

func jsonReply(v any) (uint8, []byte) {
	b, err := json.Marshal(v)
	if err != nil {
		return StatusServerError, []byte("marshal error")
	}
	return StatusOK, b
}

func (s *PomaiServer) OnTick() (time.Duration, gnet.Action) {
	if !s.started.Load() {
		return time.Minute, gnet.None
	}

	uptime := time.Since(s.startTime)
	reqs := s.totalRequests.Load()
	errs := s.totalErrors.Load()

	rps := float64(0)
	errorRate := float64(0)
	if uptime.Seconds() > 0 {
		rps = float64(reqs) / uptime.Seconds()
	}
	if reqs > 0 {
		errorRate = float64(errs) / float64(reqs) * 100
	}

	s.logger.Info("traffic",
		"conns", s.connections.Load(),
		"reqs", reqs,
		"rps", strconv.FormatFloat(rps, 'f', 0, 64),
		"error_pct", strconv.FormatFloat(errorRate, 'f', 2, 64),
	)
	return s.statsEvery, gnet.None
}

// Shutdown stops the gnet engine and waits up to the context deadline for
// connections to drain.
func (s *PomaiServer) Shutdown(ctx context.Context) error {
	if !s.started.Swap(false) {
		s.logger.Debug("server is not running")
		return nil
	}

	s.mu.Lock()
	eng := s.eng
	s.mu.Unlock()

	s.logger.Info("stopping gnet engine")
	if err := eng.Stop(ctx); err != nil {
		s.logger.Warn("error stopping engine", "err", err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for s.connections.Load() > 0 {
		select {
		case <-ctx.Done():
			s.logger.Warn("connections still active", "conns", s.connections.Load())
			return ctx.Err()
		case <-ticker.C:
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

func (s *PomaiServer) Stats() map[string]any {
	uptime := time.Since(s.startTime)
	reqs := s.totalRequests.Load()

	rps := float64(0)
	if !s.startTime.IsZero() && uptime.Seconds() > 0 {
		rps = float64(reqs) / uptime.Seconds()
	}

	return map[string]any{
		"server_type":      "gnet",
		"connections":      s.connections.Load(),
		"total_requests":   reqs,
		"total_errors":     s.totalErrors.Load(),
		"total_bytes":      s.totalBytes.Load(),
		"requests_per_sec": rps,
		"event_loops":      s.numEventLoop,
		"tenants":          s.tenants.ListTenants(),
	}
}
