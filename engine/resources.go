package engine

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/Zyko0/go-sdl3/sdl"
	"github.com/Zyko0/go-sdl3/ttf"
)

// fontDir holds fonts shipped next to the experiment. Its first TTF or TTC file
// wins over the system fonts.
const fontDir = "fonts"

var systemFonts = map[string][]string{
	"windows": {`C:\Windows\Fonts\arial.ttf`, `C:\Windows\Fonts\segoeui.ttf`},
	"darwin":  {"/System/Library/Fonts/Helvetica.ttc", "/Library/Fonts/Arial.ttf"},
	"linux": {
		"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
		"/usr/share/fonts/TTF/DejaVuSans.ttf",
	},
}

// defaultFontPath returns the font used when none is configured, or "" when no
// candidate exists.
func defaultFontPath() string {
	for _, pattern := range []string{"*.ttf", "*.ttc", "*.TTF"} {
		matches, _ := filepath.Glob(filepath.Join(fontDir, pattern))
		if len(matches) > 0 {
			return matches[0]
		}
	}
	candidates, ok := systemFonts[runtime.GOOS]
	if !ok {
		candidates = systemFonts["linux"]
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return ""
}

type CacheEntry struct {
	Texture *sdl.Texture
	W, H    float32
}

// TextCache keeps one rendered texture per distinct option label.
type TextCache struct {
	font    *ttf.Font
	color   sdl.Color
	entries map[string]*CacheEntry
}

func NewTextCache(font *ttf.Font, color sdl.Color) *TextCache {
	return &TextCache{
		font:    font,
		color:   color,
		entries: make(map[string]*CacheEntry),
	}
}

// Get returns the texture for text, rendering it on first use. It returns nil for
// empty text or when no font is loaded.
func (c *TextCache) Get(renderer *sdl.Renderer, text string) *CacheEntry {
	if text == "" || c.font == nil {
		return nil
	}
	if entry, ok := c.entries[text]; ok {
		if entry.Texture == nil {
			return nil
		}
		return entry
	}

	entry := &CacheEntry{}
	surf, err := c.font.RenderTextBlended(text, c.color)
	if err == nil && surf != nil {
		tex, err := renderer.CreateTextureFromSurface(surf)
		if err == nil {
			entry.Texture = tex
			entry.W = float32(surf.W)
			entry.H = float32(surf.H)
		}
		surf.Destroy()
	}

	c.entries[text] = entry
	if entry.Texture == nil {
		return nil
	}
	return entry
}

// Preload renders every option label of trials.
func (c *TextCache) Preload(renderer *sdl.Renderer, trials []TrialSpec) {
	for _, t := range trials {
		for i := 0; i < OptionCount; i++ {
			c.Get(renderer, t.Left[i])
			c.Get(renderer, t.Right[i])
		}
	}
}

func (c *TextCache) Destroy() {
	for _, entry := range c.entries {
		if entry.Texture != nil {
			entry.Texture.Destroy()
		}
	}
}
