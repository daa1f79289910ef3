package executor

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/astraly-labs/vesu-liquidator/internal/domain"
)

// episode tracks retry budget for one continuous breach of a position.
// It lives from the first sweep that names the position until either a
// terminal outcome or a sweep that no longer contains it.
type episode struct {
	ID        uuid.UUID
	Attempts  int
	Exhausted bool
	Terminal  bool
	StartedAt time.Time
}

type episodeBook struct {
	mu  sync.Mutex
	byP map[domain.PositionID]*episode
}

func newEpisodeBook() *episodeBook {
	return &episodeBook{byP: make(map[domain.PositionID]*episode)}
}

// open returns the live episode for id, creating one if the position has
// none (first breach, or a fresh breach after recovery).
func (b *episodeBook) open(id domain.PositionID, now time.Time) *episode {
	b.mu.Lock()
	defer b.mu.Unlock()
	ep, ok := b.byP[id]
	if !ok {
		ep = &episode{ID: uuid.New(), StartedAt: now}
		b.byP[id] = ep
	}
	return ep
}

// reconcile closes episodes for positions a sweep no longer names. A
// position that recovered above water and breaches again later gets a new
// episode with a fresh attempt budget. Positions the sweep lists as Unknown
// keep their episodes: an unjudgeable position has not recovered, and closing
// its episode would hand it a fresh budget every time a quote flaps stale.
func (b *episodeBook) reconcile(sweep domain.Sweep) []domain.PositionID {
	present := make(map[domain.PositionID]struct{}, len(sweep.Candidates)+len(sweep.Unknown))
	for _, c := range sweep.Candidates {
		present[c.PositionID] = struct{}{}
	}
	for _, id := range sweep.Unknown {
		present[id] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var recovered []domain.PositionID
	for id := range b.byP {
		if _, ok := present[id]; !ok {
			recovered = append(recovered, id)
			delete(b.byP, id)
		}
	}
	return recovered
}

func (b *episodeBook) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byP)
}
