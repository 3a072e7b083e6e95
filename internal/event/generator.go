// v0
// internal/event/generator.go
package event

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source yields uniform integers in [0, n). *rand.Rand satisfies it.
type Source interface {
	IntN(n int) int
}

// Range is a half-open integer interval [Min, Max).
type Range struct {
	Min int
	Max int
}

func (r Range) validate(name string) error {
	if r.Min >= r.Max {
		return fmt.Errorf("%s range [%d, %d) is empty", name, r.Min, r.Max)
	}
	return nil
}

// Settings describes the shape of generated readings.
type Settings struct {
	Locations   []string
	Temperature Range
	Humidity    Range
}

// DefaultSettings mirrors the demo rooms and the value bands of the sensors.
func DefaultSettings() Settings {
	return Settings{
		Locations:   []string{"kitchen", "living", "dining"},
		Temperature: Range{Min: 50, Max: 80},
		Humidity:    Range{Min: 20, Max: 40},
	}
}

// Validate rejects settings that could produce an out-of-set id or an empty range.
func (s Settings) Validate() error {
	if len(s.Locations) == 0 {
		return errors.New("at least one location is required")
	}
	for i, loc := range s.Locations {
		if strings.TrimSpace(loc) == "" {
			return fmt.Errorf("location %d is blank", i)
		}
	}
	if err := s.Temperature.validate("temperature"); err != nil {
		return err
	}
	return s.Humidity.validate("humidity")
}

// Generator builds randomized Events and Keys from one seeded source.
type Generator struct {
	settings Settings
	rnd      Source
	now      func() time.Time
	entropy  io.Reader
}

// Option customises a Generator.
type Option func(*Generator)

// WithClock replaces time.Now as the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// WithKeyEntropy makes key generation read from r instead of crypto/rand.
func WithKeyEntropy(r io.Reader) Option {
	return func(g *Generator) { g.entropy = r }
}

// NewSource returns the process-wide random source. A zero seed is replaced
// by one derived from the current time.
func NewSource(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewGenerator validates settings and binds them to rnd.
func NewGenerator(settings Settings, rnd Source, opts ...Option) (*Generator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if rnd == nil {
		return nil, errors.New("generator requires a random source")
	}
	g := &Generator{
		settings: Settings{
			Locations:   append([]string(nil), settings.Locations...),
			Temperature: settings.Temperature,
			Humidity:    settings.Humidity,
		},
		rnd: rnd,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Locations returns a copy of the configured location set.
func (g *Generator) Locations() []string {
	return append([]string(nil), g.settings.Locations...)
}

// Event draws location, temperature and humidity in that order and stamps
// the reading with the current local time.
func (g *Generator) Event() Event {
	id := g.settings.Locations[g.rnd.IntN(len(g.settings.Locations))]
	ts := FormatTime(g.now())
	temp := g.draw(g.settings.Temperature)
	hum := g.draw(g.settings.Humidity)
	return NewEvent(id, ts, hum, temp)
}

// Key returns a fresh routing key.
func (g *Generator) Key() (Key, error) {
	if g.entropy == nil {
		return NewKey()
	}
	id, err := uuid.NewRandomFromReader(g.entropy)
	if err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}
	return Key{Key: id.String()}, nil
}

func (g *Generator) draw(r Range) int {
	return r.Min + g.rnd.IntN(r.Max-r.Min)
}
