package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"live-quiz-service/internal/domain"

	"go.uber.org/zap"
)

// Observer is the teacher's race view over one session plus its control surface.
type Observer struct {
	svc       *LiveService
	sessionID string
	logger    *zap.Logger
}

// Observe returns an observer bound to sessionID.
func (s *LiveService) Observe(sessionID string) *Observer {
	return &Observer{
		svc:       s,
		sessionID: sessionID,
		logger:    s.logger.With(zap.String("session_id", sessionID)),
	}
}

func (o *Observer) EnableLive(ctx context.Context) (domain.Session, error) {
	return o.svc.EnableLive(ctx, o.sessionID)
}

func (o *Observer) Start(ctx context.Context) (domain.Session, error) {
	return o.svc.Start(ctx, o.sessionID)
}

func (o *Observer) ResetToWaiting(ctx context.Context) (domain.Session, error) {
	return o.svc.ResetToWaiting(ctx, o.sessionID)
}

func (o *Observer) Complete(ctx context.Context) (domain.Session, error) {
	return o.svc.Complete(ctx, o.sessionID)
}

func (o *Observer) DisableLive(ctx context.Context) (domain.Session, error) {
	return o.svc.DisableLive(ctx, o.sessionID)
}

func (o *Observer) ClearResults(ctx context.Context, opts ClearOptions) (int, error) {
	return o.svc.ClearResults(ctx, o.sessionID, opts)
}

// RaceView builds a one-off snapshot from the store.
func (s *LiveService) RaceView(ctx context.Context, sessionID string) (domain.RaceView, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.RaceView{}, err
	}
	records, err := s.progress.ListProgress(ctx, sessionID)
	if err != nil {
		return domain.RaceView{}, err
	}
	state := newRaceState(session)
	state.reset(records)
	return state.view(s.clock.Now()), nil
}

// Results returns the session with its current-round records in race order.
func (s *LiveService) Results(ctx context.Context, sessionID string) (domain.Session, []domain.ProgressRecord, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	records, err := s.progress.ListProgress(ctx, sessionID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	state := newRaceState(session)
	state.reset(records)
	view := state.view(s.clock.Now())

	ordered := make([]domain.ProgressRecord, 0, len(view.Entries))
	for _, entry := range view.Entries {
		ordered = append(ordered, state.records[entry.RecordID])
	}
	return session, ordered, nil
}

// Watch streams race views for the session. The channel always holds the newest view: a slow
// consumer skips intermediate snapshots rather than stalling the loop. It closes when ctx ends.
func (o *Observer) Watch(ctx context.Context) (<-chan domain.RaceView, error) {
	w := &watch{o: o}
	if err := w.sync(ctx); err != nil {
		return nil, err
	}
	out := make(chan domain.RaceView, 1)
	out <- w.state.view(o.svc.clock.Now())
	go w.run(ctx, out)
	return out, nil
}

type watch struct {
	o        *Observer
	state    *raceState
	progress <-chan domain.ProgressEvent
	sessions <-chan domain.SessionEvent
	cancel   context.CancelFunc
}

// sync subscribes to both feeds and then fetches the initial snapshot, so nothing written
// after the fetch can be missed. Events older than the snapshot are ignored by version.
func (w *watch) sync(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	subCtx, cancel := context.WithCancel(ctx)
	sessions, err := w.o.svc.sessions.SubscribeSession(subCtx, w.o.sessionID)
	if err != nil {
		cancel()
		return err
	}
	progress, err := w.o.svc.progress.SubscribeProgress(subCtx, w.o.sessionID)
	if err != nil {
		cancel()
		return err
	}
	session, err := w.o.svc.sessions.GetSession(ctx, w.o.sessionID)
	if err != nil {
		cancel()
		return err
	}
	records, err := w.o.svc.progress.ListProgress(ctx, w.o.sessionID)
	if err != nil {
		cancel()
		return err
	}

	if w.state == nil {
		w.state = newRaceState(session)
	} else {
		w.state.applySession(domain.SessionEvent{Kind: domain.EventUpdate, Session: session})
	}
	w.state.reset(records)
	w.sessions, w.progress, w.cancel = sessions, progress, cancel
	return nil
}

func (w *watch) run(ctx context.Context, out chan domain.RaceView) {
	defer close(out)
	defer func() { w.cancel() }()

	for {
		changed := false
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.progress:
			if !ok {
				if !w.resync(ctx) {
					return
				}
				changed = true
				break
			}
			if ev.Kind != domain.EventDelete {
				if err := AuditRecord(ev.Record); err != nil {
					w.o.logger.Warn("progress record fails score replay", zap.String("record_id", ev.Record.ID), zap.Error(err))
				}
			}
			var err error
			changed, err = w.state.applyProgress(ev)
			var stale *domain.StaleRoundError
			if errors.As(err, &stale) {
				w.o.logger.Debug("stale progress event discarded",
					zap.String("record_id", ev.Record.ID),
					zap.Int("record_round", stale.RecordRound),
					zap.Int("session_round", stale.SessionRound))
			}
		case ev, ok := <-w.sessions:
			if !ok {
				if !w.resync(ctx) {
					return
				}
				changed = true
				break
			}
			changed = w.state.applySession(ev)
		}
		if !changed {
			continue
		}

		view := w.state.view(w.o.svc.clock.Now())
		publishLatest(out, view)
		w.maybeComplete(ctx, view)
	}
}

func (w *watch) resync(ctx context.Context) bool {
	w.o.logger.Debug("change feed dropped, resyncing")
	err := w.o.svc.retry.do(ctx, func() error { return w.sync(ctx) })
	if err != nil {
		if ctx.Err() == nil {
			w.o.logger.Error("race view resync failed", zap.Error(err))
		}
		return false
	}
	return true
}

func (w *watch) maybeComplete(ctx context.Context, view domain.RaceView) {
	if !w.o.svc.autoDone || view.LiveStatus != domain.StatusActive || view.Joined == 0 || view.Completed != view.Joined {
		return
	}
	if _, err := w.o.svc.Complete(ctx, w.o.sessionID); err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
		w.o.logger.Warn("auto-complete failed", zap.Error(err))
	}
}

// publishLatest replaces an unread view with the newer one. The loop is the only sender.
func publishLatest(ch chan domain.RaceView, view domain.RaceView) {
	select {
	case ch <- view:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- view
}

// raceState is a last-writer-wins merge of progress records, keyed by record id and ordered
// by record version rather than arrival.
type raceState struct {
	session domain.Session
	records map[string]domain.ProgressRecord
	deleted map[string]int // record id -> round at deletion
}

func newRaceState(session domain.Session) *raceState {
	return &raceState{
		session: session,
		records: make(map[string]domain.ProgressRecord),
		deleted: make(map[string]int),
	}
}

func (r *raceState) reset(records []domain.ProgressRecord) {
	r.records = make(map[string]domain.ProgressRecord, len(records))
	for _, rec := range records {
		if rec.SessionID != r.session.ID {
			continue
		}
		r.records[rec.ID] = rec
		delete(r.deleted, rec.ID)
	}
}

// applyProgress merges one notification. It reports whether the view changed and, for
// events belonging to an older round, a StaleRoundError.
func (r *raceState) applyProgress(ev domain.ProgressEvent) (bool, error) {
	rec := ev.Record
	if rec.SessionID != r.session.ID {
		return false, nil
	}
	if ev.Kind == domain.EventDelete {
		round := r.session.Round
		if cur, ok := r.records[rec.ID]; ok && cur.Round > round {
			round = cur.Round
		}
		r.deleted[rec.ID] = round
		if _, ok := r.records[rec.ID]; !ok {
			return false, nil
		}
		delete(r.records, rec.ID)
		return true, nil
	}

	if _, gone := r.deleted[rec.ID]; gone {
		return false, nil
	}
	if cur, ok := r.records[rec.ID]; ok && cur.Version >= rec.Version {
		return false, nil
	}
	r.records[rec.ID] = rec
	if rec.Round < r.session.Round {
		return false, &domain.StaleRoundError{SessionID: rec.SessionID, RecordRound: rec.Round, SessionRound: r.session.Round}
	}
	return rec.Round == r.session.Round, nil
}

func (r *raceState) applySession(ev domain.SessionEvent) bool {
	if ev.Session.ID != r.session.ID {
		return false
	}
	if ev.Kind == domain.EventDelete {
		r.session.LiveStatus = domain.StatusIdle
		r.session.LiveEnabled = false
		return true
	}
	if ev.Session.Version <= r.session.Version {
		return false
	}
	if ev.Session.Round > r.session.Round {
		r.pruneTombstones(ev.Session.Round)
	}
	r.session = ev.Session
	return true
}

// pruneTombstones forgets deletions from earlier rounds; late events for those records are
// already excluded as stale.
func (r *raceState) pruneTombstones(round int) {
	for id, deletedIn := range r.deleted {
		if deletedIn < round {
			delete(r.deleted, id)
		}
	}
}

func (r *raceState) view(now time.Time) domain.RaceView {
	view := domain.RaceView{
		SessionID:      r.session.ID,
		LiveStatus:     r.session.LiveStatus,
		Round:          r.session.Round,
		TotalQuestions: len(r.session.Questions),
		Entries:        make([]domain.RaceEntry, 0, len(r.records)),
		UpdatedAt:      now,
	}
	for _, rec := range r.records {
		if rec.Round != r.session.Round {
			if rec.Round < r.session.Round {
				view.StaleDiscarded++
			}
			continue
		}
		view.Entries = append(view.Entries, domain.RaceEntry{
			RecordID:             rec.ID,
			StudentName:          rec.StudentName,
			Status:               rec.Status,
			CurrentQuestionIndex: rec.CurrentQuestionIndex,
			Score:                rec.Score,
			Power:                rec.Power,
			Answered:             len(rec.Answers),
			UpdatedAt:            rec.UpdatedAt,
		})
		if rec.Completed() {
			view.Completed++
		}
	}
	view.Joined = len(view.Entries)

	// Score desc, then power, then whoever got there first, then name.
	sort.Slice(view.Entries, func(i, j int) bool {
		a, b := view.Entries[i], view.Entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Power != b.Power {
			return a.Power > b.Power
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		if a.StudentName != b.StudentName {
			return a.StudentName < b.StudentName
		}
		return a.RecordID < b.RecordID
	})
	return view
}
