package engine

import (
	"log/slog"
	"strings"

	"github.com/Zyko0/go-sdl3/img"
	"github.com/Zyko0/go-sdl3/sdl"
	"github.com/Zyko0/go-sdl3/ttf"
	"github.com/m-mizutani/goerr/v2"
)

const (
	CrossSize      = 20
	CrossThickness = 3
	GazeDotSize    = 6
)

// SDLSurface is the SDL window: it draws trial screens and reads the keyboard.
type SDLSurface struct {
	cfg      *Config
	window   *sdl.Window
	renderer *sdl.Renderer
	font     *ttf.Font
	text     *TextCache
	logger   *slog.Logger
}

// OpenSDLSurface initialises SDL and TTF and opens the experiment window. Close
// releases everything.
func OpenSDLSurface(cfg *Config, logger *slog.Logger) (*SDLSurface, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return nil, goerr.Wrap(err, "SDL_Init failed")
	}
	if err := ttf.Init(); err != nil {
		sdl.Quit()
		return nil, goerr.Wrap(err, "TTF_Init failed")
	}

	windowFlags := sdl.WINDOW_RESIZABLE
	if cfg.Fullscreen {
		windowFlags |= sdl.WINDOW_FULLSCREEN
	}

	window, renderer, err := sdl.CreateWindowAndRenderer("expegaze", cfg.ScreenWidth, cfg.ScreenHeight, windowFlags)
	if err != nil {
		ttf.Quit()
		sdl.Quit()
		return nil, goerr.Wrap(err, "CreateWindowAndRenderer failed")
	}

	if cfg.VSync {
		renderer.SetVSync(1)
	} else {
		renderer.SetVSync(0)
	}

	s := &SDLSurface{cfg: cfg, window: window, renderer: renderer, logger: logger}

	fontPath := cfg.FontFile
	if fontPath == "" {
		fontPath = defaultFontPath()
	}
	if fontPath != "" {
		s.font, err = ttf.OpenFont(fontPath, float32(cfg.FontSize))
		if err != nil {
			logger.Warn("failed to load font", slog.String("path", fontPath), slog.Any("error", err))
		}
	}
	if s.font == nil {
		logger.Warn("no font loaded, option labels will not be drawn")
	}
	s.text = NewTextCache(s.font, cfg.TextColor)

	return s, nil
}

func (s *SDLSurface) Close() {
	s.text.Destroy()
	if s.font != nil {
		s.font.Close()
	}
	s.renderer.Destroy()
	s.window.Destroy()
	ttf.Quit()
	sdl.Quit()
}

// Preload renders the option labels of every trial ahead of the session.
func (s *SDLSurface) Preload(trials []TrialSpec) {
	s.text.Preload(s.renderer, trials)
}

// Present draws screen and flips it. The first failing renderer call is returned.
func (s *SDLSurface) Present(screen Screen) error {
	if err := s.clear(); err != nil {
		return goerr.Wrap(err, "failed to clear frame", goerr.Value("screen", screen.Kind))
	}

	switch screen.Kind {
	case ScreenFixation:
		if err := s.drawCross(); err != nil {
			return goerr.Wrap(err, "failed to draw fixation cross")
		}
	case ScreenDecision:
		if err := s.drawOptions(screen.Left, float32(s.cfg.ScreenWidth)/4); err != nil {
			return err
		}
		if err := s.drawOptions(screen.Right, float32(s.cfg.ScreenWidth)*3/4); err != nil {
			return err
		}
	}

	if screen.GazeDot != nil {
		x := float32(s.cfg.ScreenWidth)/2 + float32(screen.GazeDot.X)
		y := float32(s.cfg.ScreenHeight)/2 - float32(screen.GazeDot.Y)
		if err := s.fillSquare(x, y, GazeDotSize, s.cfg.GazeDotColor); err != nil {
			return goerr.Wrap(err, "failed to draw gaze dot")
		}
	}

	if err := s.renderer.Present(); err != nil {
		return goerr.Wrap(err, "failed to present frame", goerr.Value("screen", screen.Kind))
	}
	return nil
}

func (s *SDLSurface) clear() error {
	bg := s.cfg.BGColor
	if err := s.renderer.SetDrawColor(bg.R, bg.G, bg.B, bg.A); err != nil {
		return err
	}
	return s.renderer.Clear()
}

// drawOptions stacks the attributes of one option in a column centred on cx.
func (s *SDLSurface) drawOptions(opts Options, cx float32) error {
	step := float32(s.cfg.ScreenHeight) / float32(OptionCount+1)
	for i, label := range opts {
		entry := s.text.Get(s.renderer, label)
		if entry == nil {
			continue
		}
		cy := step * float32(i+1)
		dst := sdl.FRect{X: cx - entry.W/2, Y: cy - entry.H/2, W: entry.W, H: entry.H}
		if err := s.renderer.RenderTexture(entry.Texture, nil, &dst); err != nil {
			return goerr.Wrap(err, "failed to draw option label", goerr.Value("label", label))
		}
	}
	return nil
}

// drawCross draws the fixation cross as two bars CrossThickness wide.
func (s *SDLSurface) drawCross() error {
	c := s.cfg.FixationColor
	if err := s.renderer.SetDrawColor(c.R, c.G, c.B, c.A); err != nil {
		return err
	}
	mx, my := float32(s.cfg.ScreenWidth)/2, float32(s.cfg.ScreenHeight)/2
	half := float32(CrossThickness) / 2
	bars := []sdl.FRect{
		{X: mx - CrossSize, Y: my - half, W: 2 * CrossSize, H: CrossThickness},
		{X: mx - half, Y: my - CrossSize, W: CrossThickness, H: 2 * CrossSize},
	}
	for i := range bars {
		if err := s.renderer.RenderFillRect(&bars[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SDLSurface) fillSquare(cx, cy, half float32, c sdl.Color) error {
	if err := s.renderer.SetDrawColor(c.R, c.G, c.B, c.A); err != nil {
		return err
	}
	return s.renderer.RenderFillRect(&sdl.FRect{X: cx - half, Y: cy - half, W: 2 * half, H: 2 * half})
}

// PollResponse drains pending events. The configured left and right keys select
// an option; Escape or closing the window aborts the session.
func (s *SDLSurface) PollResponse() (Decision, bool, error) {
	for {
		var ev sdl.Event
		if !sdl.PollEvent(&ev) {
			return "", false, nil
		}
		switch ev.Type {
		case sdl.EVENT_QUIT:
			return "", false, ErrUserCancelled
		case sdl.EVENT_KEY_DOWN:
			key := ev.KeyboardEvent().Key
			if key == sdl.K_ESCAPE {
				return "", false, ErrUserCancelled
			}
			name := key.KeyName()
			switch {
			case strings.EqualFold(name, s.cfg.LeftKey):
				return DecisionLeft, true, nil
			case strings.EqualFold(name, s.cfg.RightKey):
				return DecisionRight, true, nil
			}
		}
	}
}

// Splash shows the image at path, scaled by the configured factor, until a key is
// pressed. Closing the window returns ErrUserCancelled. An image that cannot be
// loaded is logged and skipped.
func (s *SDLSurface) Splash(path string) error {
	if path == "" {
		return nil
	}
	tex, err := img.LoadTexture(s.renderer, path)
	if err != nil {
		s.logger.Warn("failed to load splash image", slog.String("path", path), slog.Any("error", err))
		return nil
	}
	defer tex.Destroy()

	tw, th, err := tex.Size()
	if err != nil {
		s.logger.Warn("failed to query splash image size", slog.String("path", path), slog.Any("error", err))
		return nil
	}
	w, h := tw*s.cfg.ScaleFactor, th*s.cfg.ScaleFactor
	dst := sdl.FRect{
		X: (float32(s.cfg.ScreenWidth) - w) / 2,
		Y: (float32(s.cfg.ScreenHeight) - h) / 2,
		W: w,
		H: h,
	}

	if err := s.clear(); err != nil {
		return goerr.Wrap(err, "failed to clear splash frame", goerr.Value("path", path))
	}
	if err := s.renderer.RenderTexture(tex, nil, &dst); err != nil {
		return goerr.Wrap(err, "failed to draw splash image", goerr.Value("path", path))
	}
	if err := s.renderer.Present(); err != nil {
		return goerr.Wrap(err, "failed to present splash", goerr.Value("path", path))
	}

	for {
		var ev sdl.Event
		if err := sdl.WaitEvent(&ev); err != nil {
			s.logger.Warn("event wait failed, leaving splash", slog.String("path", path), slog.Any("error", err))
			return nil
		}
		switch ev.Type {
		case sdl.EVENT_QUIT:
			return ErrUserCancelled
		case sdl.EVENT_KEY_DOWN:
			return nil
		}
	}
}
