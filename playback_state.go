package avplay

import "github.com/colinpaint/ffplay/internal/engine"

// Video playback state can be [Stopped], [Playing] or [Paused].
type PlaybackState = engine.PlaybackState

const (
	Stopped = engine.Stopped
	Playing = engine.Playing
	Paused  = engine.Paused
)
