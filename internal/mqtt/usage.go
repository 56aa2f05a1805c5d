package mqtt

import (
	"maps"
	"sync"
	"time"
)

// dayLayout keys a usage bucket by calendar date so the same day-of-year
// in different years never shares a bucket.
const dayLayout = "2006-01-02"

// Usage is one day of model consumption as reported on the status topic.
type Usage struct {
	TokensIn  int64
	TokensOut int64
	Calls     int64
	ByModel   map[string]int64
}

// modelUsage tallies llm_response events for the current local day. A
// call on a new date starts a fresh bucket.
type modelUsage struct {
	mu    sync.Mutex
	loc   *time.Location
	now   func() time.Time
	day   string
	today Usage
}

func newModelUsage(loc *time.Location) *modelUsage {
	if loc == nil {
		loc = time.Local
	}
	u := &modelUsage{loc: loc, now: time.Now}
	u.day = u.now().In(loc).Format(dayLayout)
	return u
}

// record counts one model call. An empty model name is tallied as
// "unknown".
func (u *modelUsage) record(model string, in, out int) {
	if model == "" {
		model = "unknown"
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	u.roll()
	u.today.TokensIn += int64(in)
	u.today.TokensOut += int64(out)
	u.today.Calls++
	if u.today.ByModel == nil {
		u.today.ByModel = make(map[string]int64)
	}
	u.today.ByModel[model]++
}

// snapshot returns a copy of today's bucket.
func (u *modelUsage) snapshot() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.roll()
	s := u.today
	s.ByModel = maps.Clone(u.today.ByModel)
	return s
}

// roll must be called with u.mu held.
func (u *modelUsage) roll() {
	if day := u.now().In(u.loc).Format(dayLayout); day != u.day {
		u.day = day
		u.today = Usage{}
	}
}
