package reconcile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"packlist/internal/model"
	"packlist/internal/remote"
	"packlist/internal/store"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	DefaultDebounce = 2 * time.Second
	DefaultEchoTTL  = 30 * time.Second
	writeTimeout    = 10 * time.Second
)

type SyncState string

const (
	SyncConnecting SyncState = "connecting"
	SyncConnected  SyncState = "connected"
	SyncOffline    SyncState = "offline"
	SyncError      SyncState = "error"
)

type SyncStatus struct {
	State      SyncState `json:"state"`
	Error      string    `json:"error,omitempty"`
	Pending    bool      `json:"pending"`
	LastSync   time.Time `json:"lastSync,omitempty"`
	LastBackup time.Time `json:"lastBackup,omitempty"`
	Origin     string    `json:"origin"`
}

type SessionOptions struct {
	// Remote is the hub connection. Nil runs the session offline.
	Remote remote.Adapter
	// OfflineReason is reported in the sync status when Remote is nil.
	OfflineReason error
	Backup        store.Backup
	AppKey        string
	Debounce      time.Duration
	EchoTTL       time.Duration
	Origin        string
	Log           *zap.Logger
	Now           func() time.Time
}

type writeReq struct {
	path   string
	raw    json.RawMessage
	digest string
}

type writeResult struct {
	req writeReq
	err error
}

// Session runs a Reconciler on a single goroutine (Run). UI commands,
// hub deliveries, the debounce timer and write completions all re-enter that
// goroutine, so the reconciler itself needs no locking.
type Session struct {
	r        *Reconciler
	remote   remote.Adapter
	backup   store.Backup
	appKey   string
	debounce time.Duration
	origin   string
	log      *zap.Logger
	now      func() time.Time

	cmds     chan func()
	inbound  chan remote.Update
	writes   chan writeReq
	results  chan writeResult
	stopping chan struct{}
	done     chan struct{}
	ready    chan struct{}

	readyOnce sync.Once
	writerWG  sync.WaitGroup

	// echoes holds digests of documents this session wrote and has not yet
	// seen come back, keyed by path and digest. The value is applied[path]
	// at the time of the write.
	echoes *cache.Cache
	hub    *changeHub

	statusMu sync.RWMutex
	status   SyncStatus

	// Owned by Run.
	online        bool
	timer         *time.Timer
	timerC        <-chan time.Time
	pending       bool
	queue         []writeReq
	seenItems     bool
	seenChecklist bool
	handles       []remote.Handle
	// applied counts inbound documents merged per path.
	applied map[string]uint64
}

// NewSession loads the local backup into r, if there is one, and prepares a
// session. Nothing runs until Run.
func NewSession(r *Reconciler, opts SessionOptions) *Session {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.EchoTTL <= 0 {
		opts.EchoTTL = DefaultEchoTTL
	}
	if opts.AppKey == "" {
		opts.AppKey = store.DefaultKey
	}
	if opts.Origin == "" {
		opts.Origin = uuid.NewString()
	}
	if opts.Backup == nil {
		opts.Backup = store.NewMemory()
	}
	s := &Session{
		r:        r,
		remote:   opts.Remote,
		backup:   opts.Backup,
		appKey:   opts.AppKey,
		debounce: opts.Debounce,
		origin:   opts.Origin,
		log:      opts.Log.With(zap.String("origin", opts.Origin)),
		now:      opts.Now,
		cmds:     make(chan func()),
		inbound:  make(chan remote.Update, 16),
		writes:   make(chan writeReq),
		results:  make(chan writeResult),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
		// No janitor goroutine; expired entries are dropped on lookup and by
		// DeleteExpired after each flush.
		echoes:  cache.New(opts.EchoTTL, 0),
		hub:     newChangeHub(),
		online:  opts.Remote != nil,
		applied: map[string]uint64{},
	}
	s.status = SyncStatus{State: SyncConnecting, Origin: s.origin}
	if s.remote == nil {
		s.status.State = SyncOffline
		if opts.OfflineReason != nil {
			s.status.Error = opts.OfflineReason.Error()
		}
	}

	doc, ok, err := s.backup.Load(s.appKey)
	switch {
	case err != nil:
		s.log.Warn("backup load failed; starting from defaults", zap.String("key", s.appKey), zap.Error(err))
	case ok:
		r.LoadBackup(doc)
		s.log.Debug("loaded local backup", zap.String("key", s.appKey), zap.Int("items", r.catalog.Len()))
	}
	return s
}

func (s *Session) Origin() string { return s.origin }

// Ready is closed once the initial load is complete: both hub documents have
// been delivered, or the session is offline.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe returns a channel that receives a signal after every state or
// sync status change.
func (s *Session) Subscribe() (<-chan struct{}, func()) {
	return s.hub.subscribe()
}

func (s *Session) SyncStatus() SyncStatus {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Session) updateStatus(fn func(st *SyncStatus)) {
	s.statusMu.Lock()
	fn(&s.status)
	s.statusMu.Unlock()
	s.hub.broadcast()
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Run is the event loop. It returns after ctx is canceled and the pending
// write token and queued writes have been flushed.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	var remoteDone <-chan struct{}
	if s.online {
		s.writerWG.Add(1)
		go s.writer(s.remote)
		remoteDone = s.remote.Done()
		for _, p := range []string{remote.PathItems, remote.PathChecklist} {
			h, err := s.remote.Subscribe(ctx, p, s.inbound)
			if err != nil {
				s.goOffline(err)
				break
			}
			s.handles = append(s.handles, h)
		}
		if s.online {
			s.updateStatus(func(st *SyncStatus) { st.State = SyncConnected })
		}
	} else {
		s.markReady()
	}

	for {
		var sendC chan<- writeReq
		var next writeReq
		if len(s.queue) > 0 {
			sendC = s.writes
			next = s.queue[0]
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case fn := <-s.cmds:
			fn()
		case u := <-s.inbound:
			s.handleUpdate(u)
		case <-s.timerC:
			s.timerC = nil
			s.flushChecklist()
			s.hub.broadcast()
		case sendC <- next:
			s.queue = s.queue[1:]
		case res := <-s.results:
			s.handleResult(res)
		case <-remoteDone:
			remoteDone = nil
			s.goOffline(errors.New("hub connection lost"))
		}
	}
}

func (s *Session) shutdown() {
	if s.pending {
		s.flushChecklist()
	}
	close(s.stopping)
	// The queue is only non-empty while online, so the writer is running.
	for _, req := range s.queue {
		s.writes <- req
	}
	s.queue = nil
	close(s.writes)
	s.writerWG.Wait()
	s.dropSubscriptions()
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Session) writer(a remote.Adapter) {
	defer s.writerWG.Done()
	for req := range s.writes {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := a.Write(ctx, req.path, req.raw)
		cancel()
		select {
		case s.results <- writeResult{req: req, err: err}:
		case <-s.stopping:
			if err != nil {
				s.log.Warn("final remote write failed", zap.Error(WriteError{Path: req.path, Err: err}))
			}
		}
	}
}

func (s *Session) dropSubscriptions() {
	for _, h := range s.handles {
		if err := s.remote.Unsubscribe(h); err != nil {
			s.log.Debug("unsubscribe failed", zap.Error(err))
		}
	}
	s.handles = nil
}

func (s *Session) goOffline(err error) {
	if !s.online {
		return
	}
	s.online = false
	s.queue = nil
	s.log.Warn("hub unavailable; continuing with local backup only", zap.Error(err))
	s.updateStatus(func(st *SyncStatus) {
		st.State = SyncOffline
		st.Error = err.Error()
	})
	s.markReady()
}

// do runs fn on the loop goroutine and waits for it.
func (s *Session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (s *Session) SetChecked(ctx context.Context, person, itemID string, checked bool) error {
	var opErr error
	if err := s.do(ctx, func() {
		if opErr = s.r.SetChecked(person, itemID, checked); opErr != nil {
			return
		}
		s.armChecklist()
		s.hub.broadcast()
	}); err != nil {
		return err
	}
	return opErr
}

// AddItem pushes the catalog right away; the new person buckets ride on the
// pending checklist token.
func (s *Session) AddItem(ctx context.Context, cat model.Category, name, quantity string, persons []string) (model.Item, error) {
	var it model.Item
	var opErr error
	if err := s.do(ctx, func() {
		if it, opErr = s.r.AddItem(cat, name, quantity, persons); opErr != nil {
			return
		}
		s.flushItems()
		s.armChecklist()
		s.hub.broadcast()
	}); err != nil {
		return model.Item{}, err
	}
	return it, opErr
}

func (s *Session) DeleteItem(ctx context.Context, itemID string) error {
	var opErr error
	if err := s.do(ctx, func() {
		if opErr = s.r.DeleteItem(itemID); opErr != nil {
			return
		}
		s.flushItems()
		s.flushChecklist()
		s.hub.broadcast()
	}); err != nil {
		return err
	}
	return opErr
}

// Save pushes both documents now and writes the backup.
func (s *Session) Save(ctx context.Context) error {
	var opErr error
	if err := s.do(ctx, func() {
		s.flushItems()
		opErr = s.flushChecklist()
		s.hub.broadcast()
	}); err != nil {
		return err
	}
	return opErr
}

// Flush flushes the pending write token, if any.
func (s *Session) Flush(ctx context.Context) error {
	var opErr error
	if err := s.do(ctx, func() {
		if s.pending {
			opErr = s.flushChecklist()
			s.hub.broadcast()
		}
	}); err != nil {
		return err
	}
	return opErr
}

func (s *Session) Snapshot(ctx context.Context) (model.Snapshot, error) {
	var snap model.Snapshot
	err := s.do(ctx, func() { snap = s.r.Snapshot() })
	return snap, err
}

func (s *Session) Status(ctx context.Context, itemID string) (model.Status, error) {
	var st model.Status
	err := s.do(ctx, func() { st = s.r.Status(itemID) })
	return st, err
}

// Export returns the current backup document without writing it.
func (s *Session) Export(ctx context.Context) (model.BackupDoc, error) {
	var doc model.BackupDoc
	err := s.do(ctx, func() { doc = s.r.BackupDoc(s.now()) })
	return doc, err
}

// armChecklist replaces the pending write token: the previous timer is
// stopped and a new one armed.
func (s *Session) armChecklist() {
	s.pending = true
	if s.timer == nil {
		s.timer = time.NewTimer(s.debounce)
	} else {
		s.timer.Reset(s.debounce)
	}
	s.timerC = s.timer.C
	s.updateStatus(func(st *SyncStatus) { st.Pending = true })
}

func (s *Session) flushChecklist() error {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerC = nil
	s.pending = false
	s.r.MarkClean()
	s.push(remote.PathChecklist, s.r.ChecklistDoc(s.now(), s.origin))
	err := s.saveBackup()
	s.updateStatus(func(st *SyncStatus) { st.Pending = false })
	return err
}

func (s *Session) flushItems() {
	s.push(remote.PathItems, s.r.ItemsDoc())
	_ = s.saveBackup()
}

func (s *Session) saveBackup() error {
	now := s.now()
	if err := s.backup.Save(s.appKey, s.r.BackupDoc(now)); err != nil {
		s.log.Error("backup write failed", zap.String("key", s.appKey), zap.Error(err))
		return err
	}
	s.updateStatus(func(st *SyncStatus) { st.LastBackup = now })
	return nil
}

// push queues a write to the hub. Offline sessions skip it; the backup has
// already been or is about to be written by the caller.
func (s *Session) push(path string, v any) {
	if !s.online {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode outbound document failed", zap.String("path", path), zap.Error(err))
		return
	}
	digest := canonicalDigest(raw)
	s.echoes.DeleteExpired()
	s.echoes.SetDefault(echoKey(path, digest), s.applied[path])
	req := writeReq{path: path, raw: raw, digest: digest}
	// A queued, unsent write to the same path is superseded in place.
	for i := range s.queue {
		if s.queue[i].path == path {
			s.queue[i] = req
			return
		}
	}
	s.queue = append(s.queue, req)
}

func (s *Session) handleResult(res writeResult) {
	if res.err == nil {
		s.updateStatus(func(st *SyncStatus) {
			if st.State == SyncError {
				st.State = SyncConnected
				st.Error = ""
			}
			st.LastSync = s.now()
		})
		return
	}
	werr := WriteError{Path: res.req.path, Err: res.err}
	s.log.Warn("remote write failed; local backup written, not retrying", zap.Error(werr))
	s.echoes.Delete(echoKey(res.req.path, res.req.digest))
	_ = s.saveBackup()
	s.updateStatus(func(st *SyncStatus) {
		if st.State != SyncOffline {
			st.State = SyncError
		}
		st.Error = werr.Error()
	})
}

func (s *Session) handleUpdate(u remote.Update) {
	if !s.online {
		return
	}
	key := echoKey(u.Path, canonicalDigest(u.Value))
	if seq, mine := s.echoes.Get(key); mine {
		s.echoes.Delete(key)
		// Another document merged after this write was queued; the hub
		// applied ours last, so take it like any other update.
		if seq.(uint64) == s.applied[u.Path] {
			s.log.Debug("ignoring echo of own write", zap.String("path", u.Path))
			s.markSeen(u.Path)
			return
		}
		s.log.Debug("own write overtook another writer; applying echo", zap.String("path", u.Path))
	}
	s.applied[u.Path]++

	switch u.Path {
	case remote.PathItems:
		first := !s.seenItems
		s.markSeen(u.Path)
		doc, err := model.DecodeItemsDoc(u.Value)
		if err != nil {
			s.noteBadSnapshot(u.Path, err)
			if first {
				s.flushItems()
			}
			break
		}
		s.r.MergeCatalog(doc)
	case remote.PathChecklist:
		first := !s.seenChecklist
		s.markSeen(u.Path)
		doc, err := model.DecodeChecklistDoc(u.Value)
		if err != nil {
			s.noteBadSnapshot(u.Path, err)
			if first {
				s.flushChecklist()
			}
			break
		}
		if skipped := s.r.MergeChecklist(doc); len(skipped) > 0 {
			s.log.Debug("kept local edits over inbound checklist", zap.Strings("persons", skipped))
		}
	default:
		s.log.Debug("ignoring update for unknown path", zap.String("path", u.Path))
		return
	}
	_ = s.saveBackup()
	s.updateStatus(func(st *SyncStatus) { st.LastSync = s.now() })
}

func (s *Session) noteBadSnapshot(path string, err error) {
	if errors.Is(err, model.ErrNoSnapshot) {
		s.log.Info("hub has no document yet; seeding from local state", zap.String("path", path))
		return
	}
	s.log.Warn("malformed hub document; keeping local state", zap.String("path", path), zap.Error(err))
}

func (s *Session) markSeen(path string) {
	switch path {
	case remote.PathItems:
		s.seenItems = true
	case remote.PathChecklist:
		s.seenChecklist = true
	}
	if s.seenItems && s.seenChecklist {
		s.markReady()
	}
}

func echoKey(path, digest string) string {
	return path + "\x00" + digest
}

// canonicalDigest hashes the re-encoded form of a JSON document so that key
// order and whitespace do not matter.
func canonicalDigest(raw []byte) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil {
		if b, err := json.Marshal(v); err == nil {
			raw = b
		}
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
