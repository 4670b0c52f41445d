package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"live-activity-service/internal/domain"
)

// Options tunes the activity engine.
type Options struct {
	// StorageTimeout bounds every repository call.
	StorageTimeout time.Duration
	// QueueSize is the per-event command buffer.
	QueueSize int
	// DefaultTimerSeconds applies to questions without their own timer.
	DefaultTimerSeconds int
	// TimeUnit is the length of one countdown second; tests shrink it.
	TimeUnit time.Duration
	// IdleTimeout retires an event loop that has no commands and no running
	// countdown.
	IdleTimeout time.Duration
	Scoring     ScoringPolicy
}

func (o Options) withDefaults() Options {
	if o.StorageTimeout <= 0 {
		o.StorageTimeout = 3 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.DefaultTimerSeconds <= 0 {
		o.DefaultTimerSeconds = 20
	}
	if o.TimeUnit <= 0 {
		o.TimeUnit = time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.Scoring == (ScoringPolicy{}) {
		o.Scoring = DefaultScoringPolicy()
	}
	return o
}

// Deps are the collaborators injected into the service for its whole lifetime.
type Deps struct {
	Repo      Repository
	Publisher Publisher
	// Directory is optional; when nil pins are resolved straight from Repo.
	Directory PINDirectory
	// Online is optional; when nil every participant is reported offline.
	Online OnlineSource
	Logger *slog.Logger
	// Now and Rand are overridable for deterministic tests.
	Now   func() time.Time
	Rand  *rand.Rand
	NewID func() string
}

// Service is the activity state machine. Every mutation of an event runs on
// that event's command loop, so commands for the same activity never overlap
// and are applied in arrival order.
type Service struct {
	repo   Repository
	pub    Publisher
	dir    PINDirectory
	online OnlineSource
	gate   *Gate
	log    *slog.Logger
	now    func() time.Time
	newID  func() string
	opts   Options

	rndMu sync.Mutex
	rnd   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	loops    map[string]*eventLoop
	starting singleflight.Group
}

func NewService(deps Deps, opts Options) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		repo:   deps.Repo,
		pub:    deps.Publisher,
		dir:    deps.Directory,
		online: deps.Online,
		gate:   NewGate(deps.Repo),
		log:    deps.Logger,
		now:    deps.Now,
		newID:  deps.NewID,
		rnd:    deps.Rand,
		opts:   opts.withDefaults(),
		ctx:    ctx,
		cancel: cancel,
		loops:  make(map[string]*eventLoop),
	}
	if s.pub == nil {
		s.pub = discardPublisher{}
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.rnd == nil {
		s.rnd = newSeededRand()
	}
	return s
}

// Gate exposes the access gate used by the transport on connect.
func (s *Service) Gate() *Gate {
	return s.gate
}

// Close stops every command loop and pending countdown.
func (s *Service) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// Loops reports how many event loops are running.
func (s *Service) Loops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loops)
}

type discardPublisher struct{}

func (discardPublisher) Publish(string, ...domain.Envelope) {}

// outbox collects what a command emits; nothing is published unless the
// command succeeds.
type outbox struct {
	envelopes []domain.Envelope
	after     []func()
}

func (o *outbox) send(to domain.Audience, n domain.Notification) {
	o.envelopes = append(o.envelopes, domain.Deliver(to, n))
}

func (o *outbox) emit(envs ...domain.Envelope) {
	o.envelopes = append(o.envelopes, envs...)
}

// then runs fn after a successful commit, before publishing.
func (o *outbox) then(fn func()) {
	o.after = append(o.after, fn)
}

func (o *outbox) merge(other *outbox) {
	o.envelopes = append(o.envelopes, other.envelopes...)
	o.after = append(o.after, other.after...)
}

type runFunc func(ctx context.Context, st *eventState, out *outbox) (any, error)

type commandResult struct {
	value any
	err   error
}

type command struct {
	name  string
	ctx   context.Context
	run   runFunc
	reply chan commandResult
}

var (
	errShuttingDown = domain.Errorf(domain.ErrStorageUnavailable, "service is shutting down")
	errLoopRetired  = errors.New("event loop retired")
)

type eventLoop struct {
	svc     *Service
	eventID string
	cmds    chan command
	// done is closed once the loop stops; queued commands are never run after.
	done  chan struct{}
	state *eventState
}

// loop returns the running loop of an event, loading the event first when
// there is none. Unknown events never get a loop.
func (s *Service) loop(ctx context.Context, eventID string) (*eventLoop, error) {
	if l := s.runningLoop(eventID); l != nil {
		return l, nil
	}
	v, err, _ := s.starting.Do(eventID, func() (any, error) {
		if l := s.runningLoop(eventID); l != nil {
			return l, nil
		}
		st, err := s.loadState(ctx, eventID)
		if err != nil {
			return nil, err
		}
		l := &eventLoop{
			svc:     s,
			eventID: eventID,
			cmds:    make(chan command, s.opts.QueueSize),
			done:    make(chan struct{}),
			state:   st,
		}
		// Recovery is the first command the loop runs.
		l.cmds <- command{name: "recover", ctx: s.ctx, run: s.recoverState}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ctx.Err() != nil {
			return nil, errShuttingDown
		}
		s.loops[eventID] = l
		s.wg.Add(1)
		go l.run()
		return l, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*eventLoop), nil
}

func (s *Service) runningLoop(eventID string) *eventLoop {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loops[eventID]
}

func (l *eventLoop) run() {
	defer l.svc.wg.Done()
	defer close(l.done)
	idle := time.NewTimer(l.svc.opts.IdleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-l.svc.ctx.Done():
			if l.state != nil {
				l.state.stopTimers()
			}
			return
		case cmd := <-l.cmds:
			wasCompleted := l.completed()
			l.handle(cmd)
			if !wasCompleted && l.completed() && l.retire() {
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(l.svc.opts.IdleTimeout)
		case <-idle.C:
			if l.retire() {
				return
			}
			idle.Reset(l.svc.opts.IdleTimeout)
		}
	}
}

func (l *eventLoop) completed() bool {
	return l.state != nil && l.state.event.Status == domain.EventCompleted
}

// retire unregisters the loop when nothing is queued and no countdown runs.
// Callers that still hold the loop see done closed and start a fresh one.
func (l *eventLoop) retire() bool {
	s := l.svc
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(l.cmds) > 0 || (l.state != nil && len(l.state.timers) > 0) {
		return false
	}
	if s.loops[l.eventID] == l {
		delete(s.loops, l.eventID)
	}
	s.log.Debug("event loop retired", "event", l.eventID)
	return true
}

func (l *eventLoop) handle(cmd command) {
	res := l.execute(cmd)
	if cmd.reply != nil {
		cmd.reply <- res
	} else if res.err != nil {
		l.svc.log.Warn("background command failed", "event", l.eventID, "command", cmd.name, "error", res.err)
	}
}

func (l *eventLoop) execute(cmd command) commandResult {
	if err := cmd.ctx.Err(); err != nil {
		return commandResult{err: domain.Wrap(domain.ErrTimeout, err)}
	}
	// A dequeued command runs to completion even if its caller goes away.
	ctx := context.WithoutCancel(cmd.ctx)
	if l.state == nil {
		st, err := l.svc.loadState(ctx, l.eventID)
		if err != nil {
			return commandResult{err: err}
		}
		l.state = st
		recovered := &outbox{}
		if _, err := l.svc.recoverState(ctx, st, recovered); err != nil {
			l.svc.log.Warn("event recovery failed", "event", l.eventID, "error", err)
		}
		l.commit(recovered)
	}

	out := &outbox{}
	value, err := cmd.run(ctx, l.state, out)
	if l.state.stale {
		// Part of the command was committed; reload before the next one.
		l.state.stopTimers()
		l.state = nil
	}
	if err != nil {
		l.svc.log.Debug("command rejected", "event", l.eventID, "command", cmd.name, "error", err)
		return commandResult{err: err}
	}
	l.commit(out)
	return commandResult{value: value}
}

func (l *eventLoop) commit(out *outbox) {
	for _, fn := range out.after {
		fn()
	}
	if len(out.envelopes) > 0 {
		l.svc.pub.Publish(l.eventID, out.envelopes...)
	}
}

// exec runs fn on the event's loop and waits for its result.
func exec[T any](ctx context.Context, s *Service, eventID, name string, fn func(ctx context.Context, st *eventState, out *outbox) (T, error)) (T, error) {
	var zero T
	cmd := command{
		name: name,
		ctx:  ctx,
		run: func(ctx context.Context, st *eventState, out *outbox) (any, error) {
			return fn(ctx, st, out)
		},
	}
	for {
		res, err := s.send(ctx, eventID, cmd)
		if errors.Is(err, errLoopRetired) {
			continue
		}
		if err != nil {
			return zero, err
		}
		if res.err != nil {
			return zero, res.err
		}
		v, _ := res.value.(T)
		return v, nil
	}
}

// send queues cmd on the event's loop and waits for the reply. A loop that
// retires before running cmd yields errLoopRetired.
func (s *Service) send(ctx context.Context, eventID string, cmd command) (commandResult, error) {
	l, err := s.loop(ctx, eventID)
	if err != nil {
		return commandResult{}, err
	}
	reply := make(chan commandResult, 1)
	cmd.reply = reply

	select {
	case l.cmds <- cmd:
	case <-l.done:
		return commandResult{}, errLoopRetired
	case <-ctx.Done():
		return commandResult{}, domain.Wrap(domain.ErrTimeout, ctx.Err())
	case <-s.ctx.Done():
		return commandResult{}, errShuttingDown
	}

	select {
	case res := <-reply:
		return res, nil
	case <-l.done:
		// The reply is sent before done closes.
		select {
		case res := <-reply:
			return res, nil
		default:
		}
		if s.ctx.Err() != nil {
			return commandResult{}, errShuttingDown
		}
		return commandResult{}, errLoopRetired
	case <-ctx.Done():
		return commandResult{}, domain.Wrap(domain.ErrTimeout, ctx.Err())
	case <-s.ctx.Done():
		return commandResult{}, errShuttingDown
	}
}

// post enqueues a command nobody waits for (timer producers).
func (s *Service) post(eventID, name string, fn runFunc) {
	l, err := s.loop(s.ctx, eventID)
	if err != nil {
		s.log.Warn("background command dropped", "event", eventID, "command", name, "error", err)
		return
	}
	cmd := command{name: name, ctx: s.ctx, run: fn}
	select {
	case l.cmds <- cmd:
	case <-l.done:
	case <-s.ctx.Done():
	}
}

func (s *Service) storageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.StorageTimeout)
}

// authorize pre-checks the organizer outside the loop so unknown events never
// spawn a loop.
func (s *Service) authorize(ctx context.Context, eventID, token string) error {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	_, err := s.gate.AuthorizeOrganizer(sctx, eventID, token)
	return err
}

// authorizeViewer admits the organizer and anyone the event lets join, and
// reports which of the two the caller is.
func (s *Service) authorizeViewer(ctx context.Context, eventID, token, pin string) (bool, error) {
	sctx, cancel := s.storageCtx(ctx)
	defer cancel()
	event, err := s.gate.AuthorizeParticipantAccess(sctx, eventID, token, pin)
	if err != nil {
		return false, err
	}
	return CheckOrganizer(event, token) == nil, nil
}
