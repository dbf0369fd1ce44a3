// Package metric maintains expvar based counters and their recent history.
package metric

import (
	"container/list"
	"expvar"
	"strings"
	"sync"
	"time"
)

// TickerFunc is the function signature accepted by AddTickerFunc, will be called once per minute.
type TickerFunc func()

var tickerFuncChan = make(chan TickerFunc)

func init() {
	go metricsTicker()
}

// AddTickerFunc adds a new function callback to the list of metrics TickerFuncs that get
// called each minute.
func AddTickerFunc(f TickerFunc) {
	tickerFuncChan <- f
}

// History remembers the last 61 samples of a counter.  61 rather than 60 because clients chart
// the deltas between samples, and the first sample has nothing to compare against.
type History struct {
	mu       sync.Mutex
	samples  *list.List
	source   expvar.Var
	Rendered *expvar.String // Samples as a comma separated string.
}

// NewHistory returns a History sampling source.
func NewHistory(source expvar.Var) *History {
	return &History{samples: list.New(), source: source, Rendered: new(expvar.String)}
}

// Sample appends the current value of the source and updates Rendered.
func (h *History) Sample() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples.PushBack(h.source.String())
	if h.samples.Len() > 61 {
		h.samples.Remove(h.samples.Front())
	}
	h.Rendered.Set(joinStringList(h.samples))
}

// Counters publishes an expvar map of totals, each with a sampled history.
type Counters struct {
	m         *expvar.Map
	histories []*History
}

// NewCounters publishes an expvar.Map under name.  It must only be called once per name, usually
// from a package var initializer.
func NewCounters(name string) *Counters {
	c := &Counters{m: expvar.NewMap(name)}
	AddTickerFunc(func() {
		for _, h := range c.histories {
			h.Sample()
		}
	})
	return c
}

// Int adds a counter without history.
func (c *Counters) Int(name string) *expvar.Int {
	v := new(expvar.Int)
	c.m.Set(name, v)
	return v
}

// Total adds a counter named <name>Total with a history named <name>Hist.
func (c *Counters) Total(name string) *expvar.Int {
	v := c.Int(name + "Total")
	h := NewHistory(v)
	c.m.Set(name+"Hist", h.Rendered)
	c.histories = append(c.histories, h)
	return v
}

// metricsTicker calls the current list of TickerFuncs once per minute.
func metricsTicker() {
	funcs := make([]TickerFunc, 0)
	ticker := time.NewTicker(time.Minute)

	for {
		select {
		case <-ticker.C:
			for _, f := range funcs {
				f()
			}
		case f := <-tickerFuncChan:
			funcs = append(funcs, f)
		}
	}
}

// joinStringList joins a List containing strings by commas.
func joinStringList(listOfStrings *list.List) string {
	if listOfStrings.Len() == 0 {
		return ""
	}
	s := make([]string, 0, listOfStrings.Len())
	for e := listOfStrings.Front(); e != nil; e = e.Next() {
		s = append(s, e.Value.(string))
	}
	return strings.Join(s, ",")
}
