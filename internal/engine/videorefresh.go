package engine

import "time"

// VideoRefresher drives the presentation-timing side of spec C6: deciding,
// on every tick of the host's render loop, whether the next queued video
// frame is due for display yet, and how long the caller should wait before
// asking again.
//
// It owns no rendering surface itself; RefreshOne calls back into Present
// once it has decided a frame should be shown, leaving the actual pixel
// copy (ebiten.Image.WritePixels, in the real pipeline) to the caller.
type VideoRefresher struct {
	VideoQ    *FrameQueue
	SubQ      *FrameQueue // nil if no subtitle stream is open
	Sync      *SyncController
	VideoClk  *Clock

	// Paused reports whether playback is currently paused. When paused,
	// RefreshOne neither advances the queue nor calls Present.
	Paused func() bool

	// FrameDrop enables dropping late frames when not the sync master
	// (spec C6 "framedrop"), mirroring ffplay's default (framedrop == -1
	// behaves as "on unless video is master").
	FrameDrop bool

	// Present is invoked with the frame that should now be on screen. It
	// is called only on a RefreshOne that advanced to a newly due frame;
	// when nothing changed it is not called, so the caller keeps showing
	// the last frame it was given.
	Present func(frame *Frame)

	// PurgeSubtitle is called whenever a new video frame is about to be
	// displayed, with that frame's pts, so the caller can drop subtitle
	// regions whose end time has passed.
	PurgeSubtitle func(videoPTS time.Duration)

	frameTimer   float64 // seconds, wall-clock anchor of the current frame
	forceRefresh bool
	framesDropped int

	// Step, when true, requests the caller's TogglePause to fire once a
	// new frame is actually displayed (frame-by-frame stepping).
	Step        bool
	TogglePause func()
}

// NewVideoRefresher builds a refresher for the given video frame queue.
func NewVideoRefresher(videoQ, subQ *FrameQueue, sync *SyncController, videoClk *Clock) *VideoRefresher {
	return &VideoRefresher{VideoQ: videoQ, SubQ: subQ, Sync: sync, VideoClk: videoClk}
}

// FramesDropped returns the running count of late frames dropped to catch
// up to the sync master.
func (r *VideoRefresher) FramesDropped() int { return r.framesDropped }

// RefreshOne runs one pass of spec C6's video_refresh algorithm at wall
// time now, and returns how long the caller should wait before calling
// again (clamped against the caller's own remainingTime budget).
func (r *VideoRefresher) RefreshOne(now time.Time, remainingTime time.Duration) time.Duration {
	if !r.Paused() && r.Sync.GetMasterSyncType() == SyncExternalClock {
		r.Sync.CheckExternalClockSpeed(nil, nil, false, false)
	}

	if r.VideoQ == nil {
		return remainingTime
	}

	for {
		if r.VideoQ.NbRemaining() == 0 {
			break // nothing to display yet
		}

		lastvp := r.VideoQ.PeekLast()
		vp := r.VideoQ.Peek()

		if vp.Serial != r.VideoQ.pktq.Serial() {
			r.VideoQ.Next()
			continue
		}
		if lastvp.Serial != vp.Serial {
			r.frameTimer = nowSeconds(now)
		}

		if r.Paused() {
			break
		}

		lastDuration := r.vpDuration(lastvp, vp)
		delay := r.Sync.ComputeTargetDelay(lastDuration, NoSyncThreshold)

		nowSec := nowSeconds(now)
		if nowSec < r.frameTimer+delay.Seconds() {
			wait := time.Duration((r.frameTimer + delay.Seconds() - nowSec) * float64(time.Second))
			if wait < remainingTime {
				remainingTime = wait
			}
			break
		}

		r.frameTimer += delay.Seconds()
		if delay.Seconds() > 0 && nowSec-r.frameTimer > AVSyncThresholdMax.Seconds() {
			r.frameTimer = nowSec
		}

		if vp.HasPTS {
			r.VideoClk.Set(vp.PTS.Seconds(), vp.Serial)
			if r.Sync != nil {
				r.Sync.ExternalClock.SyncSlaveTo(r.VideoClk)
			}
		}

		if r.VideoQ.NbRemaining() > 1 {
			nextvp := r.VideoQ.PeekNext()
			duration := r.vpDuration(vp, nextvp)
			framedropActive := r.FrameDrop && r.Sync.GetMasterSyncType() != SyncVideoMaster
			if !r.Step && framedropActive && nowSec > r.frameTimer+duration.Seconds() {
				r.framesDropped++
				r.VideoQ.Next()
				continue
			}
		}

		if r.SubQ != nil && r.PurgeSubtitle != nil {
			r.PurgeSubtitle(vp.PTS)
		}

		r.VideoQ.Next()
		r.forceRefresh = true

		if r.Step && !r.Paused() && r.TogglePause != nil {
			r.TogglePause()
		}
		break
	}

	if r.forceRefresh {
		vp := r.VideoQ.PeekLast()
		if r.Present != nil {
			r.Present(vp)
		}
		r.forceRefresh = false
	}
	return remainingTime
}

// vpDuration returns the nominal on-screen duration of vp given the frame
// that follows it, falling back to the packet-reported duration or a
// default when PTS information is incomplete (spec C6 "vp_duration").
func (r *VideoRefresher) vpDuration(vp, next *Frame) time.Duration {
	if vp.Serial != next.Serial {
		return 0
	}
	d := next.PTS - vp.PTS
	if d <= 0 || d > AVNoSyncThreshold {
		return vp.Duration
	}
	return d
}
