package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vocalize-labs/vocalize-go/internal/avatar"
)

// oneShotLength approximates how long a cue motion plays before the
// finished callback re-triggers idle.
const oneShotLength = 1200 * time.Millisecond

// headlessRig validates parameter writes against the loaded asset and
// keeps the latest values. It stands in for the renderer process, which
// consumes the same surface over its own IPC.
type headlessRig struct {
	asset avatar.Asset
	log   zerolog.Logger

	mu       sync.Mutex
	params   map[string]float32
	finished func(group string)
}

func newHeadlessRig(asset avatar.Asset, log zerolog.Logger) *headlessRig {
	return &headlessRig{
		asset:  asset,
		log:    log.With().Str("asset", asset.Name).Logger(),
		params: make(map[string]float32),
	}
}

func (r *headlessRig) SetParam(name string, value float32) error {
	if !r.asset.HasParam(name) {
		return fmt.Errorf("asset %s has no parameter %s", r.asset.Name, name)
	}
	r.mu.Lock()
	r.params[name] = value
	r.mu.Unlock()
	return nil
}

func (r *headlessRig) PlayMotion(group string, priority int) error {
	r.log.Debug().Str("motion", group).Int("priority", priority).Msg("Motion triggered")
	if group == avatar.MotionIdle {
		return nil
	}
	time.AfterFunc(oneShotLength, func() {
		r.mu.Lock()
		fn := r.finished
		r.mu.Unlock()
		if fn != nil {
			fn(group)
		}
	})
	return nil
}

func (r *headlessRig) OnMotionFinished(fn func(group string)) {
	r.mu.Lock()
	r.finished = fn
	r.mu.Unlock()
}
