// Command avplay is a minimal command-line video player built on top of
// the avplay package.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	avplay "github.com/colinpaint/ffplay"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// Options mirrors the slice of ffplay's CLI surface this build supports
// (spec.md §6): looping, a startup volume, fullscreen, the initial window
// size, and an explicit audio-disable switch. Seeking is only available
// through the keys, not as a flag.
type Options struct {
	VideoFile  string
	NoAudio    bool
	Loop       bool
	Volume     float64
	Fullscreen bool
	WindowW    int
	WindowH    int
}

func parseOptions() Options {
	var opts Options
	flag.BoolVar(&opts.NoAudio, "an", false, "disable audio playback")
	flag.BoolVar(&opts.Loop, "loop", false, "loop playback on reaching the end")
	flag.Float64Var(&opts.Volume, "volume", 1.0, "initial volume, 0.0 to 1.0")
	flag.BoolVar(&opts.Fullscreen, "fs", false, "start in fullscreen")
	flag.IntVar(&opts.WindowW, "x", 1280, "initial window width")
	flag.IntVar(&opts.WindowH, "y", 720, "initial window height")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: avplay [flags] path/to/video.mp4\n")
		flag.PrintDefaults()
		os.Exit(1)
	}
	opts.VideoFile = flag.Arg(0)
	return opts
}

func main() {
	opts := parseOptions()

	path, err := filepath.Abs(opts.VideoFile)
	if err != nil {
		panic(err)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "'%s' not found.\n", path)
			os.Exit(1)
		}
		panic(err)
	}

	if !opts.NoAudio {
		if err := avplay.CreateAudioContextForMedia(path); err != nil && !errors.Is(err, avplay.ErrNonNilAudioContext) {
			panic(err)
		}
	}

	var player *avplay.Player
	if opts.NoAudio {
		player, err = avplay.NewPlayerWithoutAudio(path)
	} else {
		player, err = avplay.NewPlayer(path)
	}
	if err != nil {
		panic(err)
	}
	player.SetLooping(opts.Loop)
	player.SetVolume(opts.Volume)

	if err := player.Play(); err != nil {
		panic(err)
	}

	ebiten.SetWindowTitle("avplay")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(opts.WindowW, opts.WindowH)
	ebiten.SetFullscreen(opts.Fullscreen)

	game := &gameLoop{
		videoPath: path,
		player:    player,
		duration:  player.Duration(),
	}
	if err := ebiten.RunGame(game); err != nil {
		panic(err)
	}
}

// gameLoop drives the ebitengine event loop and implements part of the
// key bindings of spec.md §6: q/Esc, p/space, the arrows, page up/down,
// m, 9/0 and f. There is no frame-step key, and a/v/t/c do nothing.
type gameLoop struct {
	videoPath string
	player    *avplay.Player

	lastPosition time.Duration
	duration     time.Duration
	fullscreen   bool
}

func (g *gameLoop) Layout(_, _ int) (int, int) {
	panic("Layout() should not be called when LayoutF() exists")
}

func (g *gameLoop) LayoutF(w, h float64) (float64, float64) {
	scaleFactor := ebiten.Monitor().DeviceScaleFactor()
	return w * scaleFactor, h * scaleFactor
}

func (g *gameLoop) Draw(canvas *ebiten.Image) {
	avplay.Draw(canvas, g.player.CurrentFrame())
	g.drawGUI(canvas)
}

func (g *gameLoop) Update() error {
	g.player.Update(time.Now())

	var err error
	g.lastPosition, err = g.player.Position()
	if err != nil {
		return err
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) || inpututil.IsKeyJustPressed(ebiten.KeyQ) {
		if err := g.player.Close(); err != nil {
			return err
		}
		return ebiten.Termination
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyP) || inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		if err := g.player.TogglePause(); err != nil {
			return err
		}
	}

	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyLeft):
		g.player.SeekRelative(-10 * time.Second)
	case inpututil.IsKeyJustPressed(ebiten.KeyRight):
		g.player.SeekRelative(10 * time.Second)
	case inpututil.IsKeyJustPressed(ebiten.KeyDown):
		g.player.SeekRelative(-60 * time.Second)
	case inpututil.IsKeyJustPressed(ebiten.KeyUp):
		g.player.SeekRelative(60 * time.Second)
	case inpututil.IsKeyJustPressed(ebiten.KeyPageDown):
		g.player.SeekRelative(-600 * time.Second)
	case inpututil.IsKeyJustPressed(ebiten.KeyPageUp):
		g.player.SeekRelative(600 * time.Second)
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyM) {
		g.player.SetMuted(!g.player.GetMuted())
	}
	if inpututil.IsKeyJustPressed(ebiten.Key9) {
		g.player.SetVolume(max0(g.player.GetVolume() - 0.1))
	}
	if inpututil.IsKeyJustPressed(ebiten.Key0) {
		g.player.SetVolume(min1(g.player.GetVolume() + 0.1))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF) {
		g.fullscreen = !g.fullscreen
		ebiten.SetFullscreen(g.fullscreen)
	}

	// a/v/t/c (audio/video/subtitle/chapter stream cycling) are
	// documented no-ops: this build always opens stream index 0 of
	// each type, the same restriction the teacher's controllers have
	// (see SPEC_FULL.md's CLI surface section).

	return nil
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func min1(v float64) float64 {
	if v > 1 {
		return 1
	}
	return v
}

func (g *gameLoop) drawGUI(canvas *ebiten.Image) {
	bounds := canvas.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	playWidth := (w * 2) / 3
	playHeight := h / 48
	ox := (w - playWidth) / 2
	oy := h - playHeight*2
	playRect := image.Rect(ox, oy, ox+playWidth, oy+playHeight)
	canvas.SubImage(playRect).(*ebiten.Image).Fill(color.RGBA{255, 255, 255, 255})
	const borderThickness = 3
	playRect.Min.X += borderThickness
	playRect.Max.X -= borderThickness
	playRect.Min.Y += borderThickness
	playRect.Max.Y -= borderThickness
	canvas.SubImage(playRect).(*ebiten.Image).Fill(color.RGBA{0, 0, 0, 255})
	const innerMargin = 2
	playRect.Min.X += innerMargin
	playRect.Max.X -= innerMargin
	playRect.Min.Y += innerMargin
	playRect.Max.Y -= innerMargin
	if g.duration > 0 {
		t := float64(g.lastPosition) / float64(g.duration)
		playRect.Max.X = playRect.Min.X + int(float64(playRect.Dx())*t)
		canvas.SubImage(playRect).(*ebiten.Image).Fill(color.RGBA{255, 255, 255, 255})
	}

	state := g.player.State()
	label := fmt.Sprintf("%s / %s (%s) — space: pause, arrows: seek, m: mute, f: fullscreen, q: quit",
		durationToMMSS(g.lastPosition), durationToMMSS(g.duration), state.String())
	ebitenutil.DebugPrintAt(canvas, label, ox, oy-16)
}

func durationToMMSS(d time.Duration) string {
	totalSeconds := d.Milliseconds() / 1000
	minutes := totalSeconds / 60
	seconds := totalSeconds % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
