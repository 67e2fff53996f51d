package ocr

// Record is the structured result of one extraction. A nil field means the
// value could not be determined; KM is 0 in that case.
type Record struct {
	KM      float64 `json:"km"`
	Runs    *int    `json:"runs"`
	PaceMin *int    `json:"paceMin"`
	PaceSec *int    `json:"paceSec"`
	TimeH   *int    `json:"timeH"`
	TimeM   *int    `json:"timeM"`
	TimeS   *int    `json:"timeS"`
	TimeRaw *string `json:"timeRaw"`
}

// PaceSeconds returns the pace in seconds per km, if known.
func (r Record) PaceSeconds() (int, bool) {
	if r.PaceMin == nil || r.PaceSec == nil {
		return 0, false
	}
	return *r.PaceMin*60 + *r.PaceSec, true
}

// TimeSeconds returns the elapsed time in seconds, if known.
func (r Record) TimeSeconds() (int, bool) {
	if r.TimeM == nil || r.TimeS == nil {
		return 0, false
	}
	h := 0
	if r.TimeH != nil {
		h = *r.TimeH
	}
	return h*3600 + *r.TimeM*60 + *r.TimeS, true
}

// SetPace stores a pace given in seconds per km.
func (r *Record) SetPace(sec int) {
	m, s := sec/60, sec%60
	r.PaceMin, r.PaceSec = &m, &s
}

// SetTime stores an elapsed time and regenerates TimeRaw from it. TimeH stays
// nil below one hour.
func (r *Record) SetTime(sec int) {
	c := ClockFromSeconds(sec)
	r.TimeH = nil
	if c.Hours > 0 {
		h := c.Hours
		r.TimeH = &h
	}
	m, s := c.Minutes, c.Seconds
	raw := FormatClock(sec)
	r.TimeM, r.TimeS, r.TimeRaw = &m, &s, &raw
}

// SetRuns stores a run count.
func (r *Record) SetRuns(n int) {
	r.Runs = &n
}
