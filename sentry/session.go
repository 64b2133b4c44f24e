package sentry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/robfig/cron/v3"
)

const (
	storageCollection     = "itemsentry"
	storageKeyInfractions = "infractions"
)

// Infraction is one recorded violation with a decay deadline. Expired
// infractions stop counting towards the player's point total.
type Infraction struct {
	Id        string `json:"id"`
	Points    int64  `json:"points"`
	ExpirySec int64  `json:"expiry_sec"`
	Reason    string `json:"reason"`
}

type infractionState struct {
	Infractions []*Infraction `json:"infractions,omitempty"`
}

// Session tracks the durable audit state of one player: the infractions
// accrued across connections, persisted to storage so they survive the
// server process.
type Session struct {
	sync.Mutex
	userID  string
	state   *infractionState
	version string
}

// LoadSession reads the player's persisted infractions, returning an
// empty session when none exist yet.
func LoadSession(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, userID string) (*Session, error) {
	s := &Session{
		userID: userID,
		state:  &infractionState{},
	}

	objects, err := nk.StorageRead(ctx, []*runtime.StorageRead{{
		Collection: storageCollection,
		Key:        storageKeyInfractions,
		UserID:     userID,
	}})
	if err != nil {
		logger.Error("Failed to read infraction state for user %s: %v", userID, err)
		return nil, ErrInternal
	}
	for _, o := range objects {
		if o.Key != storageKeyInfractions {
			continue
		}
		if err := json.Unmarshal([]byte(o.Value), s.state); err != nil {
			logger.Error("Failed to decode infraction state for user %s: %v", userID, err)
			return nil, ErrInternal
		}
		s.version = o.Version
	}
	return s, nil
}

// save persists the current state. Caller holds the session lock.
func (s *Session) save(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) error {
	value, err := json.Marshal(s.state)
	if err != nil {
		logger.Error("Failed to encode infraction state for user %s: %v", s.userID, err)
		return ErrInternal
	}

	acks, err := nk.StorageWrite(ctx, []*runtime.StorageWrite{{
		Collection:      storageCollection,
		Key:             storageKeyInfractions,
		UserID:          s.userID,
		Value:           string(value),
		Version:         s.version,
		PermissionRead:  1,
		PermissionWrite: 0,
	}})
	if err != nil {
		logger.Error("Failed to write infraction state for user %s: %v", s.userID, err)
		return ErrInternal
	}
	if len(acks) > 0 {
		s.version = acks[0].Version
	}
	return nil
}

// AddInfraction appends a new infraction expiring after duration and
// persists the state.
func (s *Session) AddInfraction(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, points int64, reason string, duration time.Duration) (*Infraction, error) {
	s.Lock()
	defer s.Unlock()

	infraction := &Infraction{
		Id:        uuid.NewString(),
		Points:    points,
		ExpirySec: time.Now().Add(duration).Unix(),
		Reason:    reason,
	}
	s.state.Infractions = append(s.state.Infractions, infraction)
	if err := s.save(ctx, logger, nk); err != nil {
		return nil, err
	}
	return infraction, nil
}

// CheckInfractions prunes expired infractions and returns the remaining
// list, the active point total and whether the total meets the threshold.
func (s *Session) CheckInfractions(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, threshold int64) ([]*Infraction, int64, bool, error) {
	s.Lock()
	defer s.Unlock()

	now := time.Now().Unix()
	active := s.state.Infractions[:0]
	pruned := false
	var total int64
	for _, i := range s.state.Infractions {
		if i.ExpirySec <= now {
			pruned = true
			continue
		}
		active = append(active, i)
		total += i.Points
	}
	s.state.Infractions = active
	if pruned {
		if err := s.save(ctx, logger, nk); err != nil {
			return nil, 0, false, err
		}
	}

	list := make([]*Infraction, len(active))
	copy(list, active)
	return list, total, threshold > 0 && total >= threshold, nil
}

// RemoveInfraction deletes the infraction by id, reporting whether it was
// present.
func (s *Session) RemoveInfraction(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, id string) (bool, error) {
	s.Lock()
	defer s.Unlock()

	for n, i := range s.state.Infractions {
		if i.Id != id {
			continue
		}
		s.state.Infractions = append(s.state.Infractions[:n], s.state.Infractions[n+1:]...)
		if err := s.save(ctx, logger, nk); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Clear removes all infractions from the player's record.
func (s *Session) Clear(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) error {
	s.Lock()
	defer s.Unlock()

	if len(s.state.Infractions) == 0 {
		return nil
	}
	s.state.Infractions = nil
	return s.save(ctx, logger, nk)
}

// NextDecay returns the next time infractions should be re-checked
// according to the configured decay schedule, or the zero time when the
// expression is empty or invalid.
func NextDecay(cronExpr string, now time.Time) time.Time {
	if cronExpr == "" {
		return time.Time{}
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(now)
}
