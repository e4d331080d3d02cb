// Package table hosts one shared battle map. A Table owns the token store,
// the movement controller, the initiative engine and every seat's drag
// session, and mutates them only from its own event loop.
package table

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/prism/internal/game/bestiary"
	"github.com/cory-johannsen/prism/internal/game/dice"
	"github.com/cory-johannsen/prism/internal/game/drag"
	"github.com/cory-johannsen/prism/internal/game/grid"
	"github.com/cory-johannsen/prism/internal/game/initiative"
	"github.com/cory-johannsen/prism/internal/game/movement"
	"github.com/cory-johannsen/prism/internal/game/token"
)

var (
	// ErrClosed is returned for commands submitted after the loop stopped.
	ErrClosed = errors.New("table is closed")
	// ErrUnknownSeat is returned for commands from a seat that has not joined.
	ErrUnknownSeat = errors.New("unknown seat")
	// ErrSeatTaken is returned when joining with an id already in use.
	ErrSeatTaken = errors.New("seat already joined")
	// ErrForbidden is returned when the seat's role may not run a command.
	ErrForbidden = errors.New("not allowed")
	// ErrTokenNotFound is returned for commands naming an unknown token.
	ErrTokenNotFound = errors.New("token not found")
	// ErrUnknownMonster is returned by SpawnMonster for an unknown preset.
	ErrUnknownMonster = errors.New("unknown monster")
	// ErrUnknownStatus is returned by ToggleStatus for an unrecognised effect.
	ErrUnknownStatus = errors.New("unknown status effect")
	// ErrNoCharacter is returned by EnsurePlayerToken for a seat without a character link.
	ErrNoCharacter = errors.New("seat has no character")
)

// Writer queues token writes to durable storage without waiting for them.
type Writer interface {
	movement.Persister
	Create(t token.Token)
	Delete(id string)
}

// Options configures a Table.
type Options struct {
	Board grid.Map
	// Origin identifies this process on the change feed.
	Origin string
	// Jitter is the drag threshold in pixels; zero uses drag.DefaultJitter.
	Jitter float64
	// InitiativeDie is rolled for RollInitiative before the modifier.
	InitiativeDie string
	// QueueSize bounds pending commands; zero uses 256.
	QueueSize int
}

// Deps are the collaborators of a Table.
type Deps struct {
	Writer    Writer
	Publisher Publisher
	Roller    *dice.Roller
	// Bestiary may be nil, which disables SpawnMonster.
	Bestiary *bestiary.Bestiary
	Logger   *zap.Logger
	// NewID assigns ids to created tokens; nil uses uuid.NewString.
	NewID func() string
}

type seat struct {
	actor movement.Actor
	drag  *drag.Session
}

// Table is the authoritative state of one shared map in this process.
type Table struct {
	opts     Options
	store    *token.Store
	moves    *movement.Controller
	turns    *initiative.Engine
	writer   Writer
	pub      Publisher
	roller   *dice.Roller
	bestiary *bestiary.Bestiary
	logger   *zap.Logger
	newID    func() string

	tasks   chan func()
	stopped chan struct{}

	// Owned by the loop goroutine.
	seats    map[string]*seat
	current  string
	lastTurn initiative.Turn
}

// New builds a Table. Call Run to start its loop.
//
// Precondition: opts.Board must be valid; Writer, Publisher, Roller and
// Logger must be non-nil.
// Postcondition: Returns a Table or an error for an invalid board or die.
func New(opts Options, deps Deps) (*Table, error) {
	if err := opts.Board.Validate(); err != nil {
		return nil, fmt.Errorf("table board: %w", err)
	}
	if opts.InitiativeDie == "" {
		opts.InitiativeDie = "1d20"
	}
	if _, err := dice.Parse(opts.InitiativeDie); err != nil {
		return nil, fmt.Errorf("table initiative die: %w", err)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	t := &Table{
		opts:     opts,
		store:    token.NewStore(),
		writer:   deps.Writer,
		pub:      deps.Publisher,
		roller:   deps.Roller,
		bestiary: deps.Bestiary,
		logger:   deps.Logger,
		newID:    deps.NewID,
		tasks:    make(chan func(), opts.QueueSize),
		stopped:  make(chan struct{}),
		seats:    make(map[string]*seat),
	}
	t.turns = initiative.NewEngine(t.store, deps.Writer, broadcastNotifier{t}, deps.Logger.Named("initiative"))
	t.moves = movement.NewController(t.store, opts.Board, t.turns, deps.Writer, seatNotifier{t}, deps.Logger.Named("movement"))
	t.store.Subscribe(t.onStoreEvent)
	return t, nil
}

// Run executes submitted commands one at a time until ctx is done.
//
// Postcondition: Returns nil after ctx is cancelled; later commands fail
// with ErrClosed.
func (t *Table) Run(ctx context.Context) error {
	defer close(t.stopped)
	t.logger.Info("table loop started", zap.String("origin", t.opts.Origin))
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("table loop stopped", zap.Int("tokens", t.store.Len()))
			return nil
		case task := <-t.tasks:
			task()
		}
	}
}

// do runs fn on the loop and waits for it. If ctx ends first fn may still run.
func (t *Table) do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
		t.publishTurnIfChanged()
	}
	select {
	case t.tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopped:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopped:
		return ErrClosed
	}
}

// asSeat runs fn on the loop with seatID as the addressee of rejection notices.
func (t *Table) asSeat(ctx context.Context, seatID string, fn func(s *seat) error) error {
	var err error
	if doErr := t.do(ctx, func() {
		s, ok := t.seats[seatID]
		if !ok {
			err = ErrUnknownSeat
			return
		}
		t.current = seatID
		defer func() { t.current = "" }()
		err = fn(s)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Seed loads tokens from storage into the store, keeping any already present.
//
// Postcondition: Returns the number of tokens stored.
func (t *Table) Seed(ctx context.Context, tokens []token.Token) (int, error) {
	var n int
	err := t.do(ctx, func() { n = t.store.Load(tokens) })
	return n, err
}

// ApplyRemote reconciles a change from the feed. Changes stamped with this
// table's own origin are echoes of local writes and are ignored.
//
// Postcondition: Returns true if the store was mutated.
func (t *Table) ApplyRemote(ctx context.Context, ch token.Change) (bool, error) {
	var applied bool
	err := t.do(ctx, func() {
		if ch.Origin != "" && ch.Origin == t.opts.Origin {
			return
		}
		applied = t.store.ApplyRemote(ch)
		if applied {
			t.logger.Debug("remote change applied",
				zap.String("op", string(ch.Op)),
				zap.String("token_id", ch.ID),
				zap.String("origin", ch.Origin),
			)
		}
	})
	return applied, err
}

// Join registers a seat, publishes a snapshot to it and returns that snapshot.
//
// Precondition: actor.Role must be valid.
func (t *Table) Join(ctx context.Context, seatID string, actor movement.Actor) (Snapshot, error) {
	if !actor.Role.Valid() {
		return Snapshot{}, fmt.Errorf("joining seat %s: invalid role %q", seatID, actor.Role)
	}
	var (
		snap Snapshot
		err  error
	)
	doErr := t.do(ctx, func() {
		if _, taken := t.seats[seatID]; taken {
			err = ErrSeatTaken
			return
		}
		t.seats[seatID] = &seat{actor: actor, drag: drag.NewSession(t.opts.Board, t.opts.Jitter)}
		snap = t.snapshot(seatID, actor)
		// Sent from the loop so no change can overtake it.
		t.pub.Publish(seatID, Message{Type: TypeSnapshot, Payload: snap})
		t.logger.Info("seat joined",
			zap.String("seat", seatID),
			zap.String("role", string(actor.Role)),
			zap.String("name", actor.Name),
		)
	})
	if doErr != nil {
		return Snapshot{}, doErr
	}
	return snap, err
}

// Leave unregisters a seat, discarding any gesture in progress.
func (t *Table) Leave(ctx context.Context, seatID string) error {
	return t.do(ctx, func() {
		if _, ok := t.seats[seatID]; ok {
			delete(t.seats, seatID)
			t.logger.Info("seat left", zap.String("seat", seatID))
		}
	})
}

// Snapshot returns the current table state as seen by seatID.
func (t *Table) Snapshot(ctx context.Context, seatID string) (Snapshot, error) {
	var snap Snapshot
	err := t.asSeat(ctx, seatID, func(s *seat) error {
		snap = t.snapshot(seatID, s.actor)
		return nil
	})
	return snap, err
}

func (t *Table) snapshot(seatID string, actor movement.Actor) Snapshot {
	return Snapshot{
		Seat: SeatInfo{
			ID:          seatID,
			Role:        actor.Role,
			Name:        actor.Name,
			CharacterID: actor.CharacterID,
		},
		Board:  t.opts.Board,
		Tokens: t.store.InitiativeOrder(),
		Turn:   t.turns.Turn(),
	}
}

func (t *Table) onStoreEvent(ev token.Event) {
	t.pub.Publish("", Message{Type: TypeChange, Payload: ev.Change})
}

func (t *Table) publishTurnIfChanged() {
	turn := t.turns.Turn()
	if turn.ActiveID == t.lastTurn.ActiveID && turn.Round == t.lastTurn.Round {
		return
	}
	t.lastTurn = turn
	t.pub.Publish("", Message{Type: TypeTurn, Payload: turn})
}

func (t *Table) notice(seatID, text string) {
	t.pub.Publish(seatID, Message{Type: TypeNotice, Payload: Notice{Kind: NoticeKindSystem, Text: text}})
}

// broadcastNotifier sends notices to every seat.
type broadcastNotifier struct{ t *Table }

func (n broadcastNotifier) Notify(text string) {
	n.t.logger.Info("notice", zap.String("text", text))
	n.t.notice("", text)
}

// seatNotifier sends notices to the seat whose command is running.
type seatNotifier struct{ t *Table }

func (n seatNotifier) Notify(text string) {
	n.t.logger.Debug("seat notice", zap.String("seat", n.t.current), zap.String("text", text))
	n.t.notice(n.t.current, text)
}
