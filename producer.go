package sensorstream

import (
	"errors"

	"github.com/tuomaz/ha-sensor-streamer/internal/cache"
	"github.com/tuomaz/ha-sensor-streamer/internal/render"
)

// Producer renders frames from the live sensor cache. Every call takes a
// fresh snapshot and renders from scratch. Safe for concurrent use.
type Producer struct {
	store    *cache.Store
	renderer *render.Renderer
	quality  int
}

// NewProducer ties a renderer to the cache it reads from. quality 0 selects
// render.DefaultJPEGQuality.
func NewProducer(store *cache.Store, renderer *render.Renderer, quality int) (*Producer, error) {
	if store == nil || renderer == nil {
		return nil, errors.New("sensorstream: producer needs a store and a renderer")
	}
	if quality == 0 {
		quality = render.DefaultJPEGQuality
	}
	return &Producer{store: store, renderer: renderer, quality: quality}, nil
}

// JPEG renders one compressed still.
func (p *Producer) JPEG() ([]byte, error) {
	return p.renderer.Render(p.store.Snapshot()).JPEG(p.quality)
}

// RGB renders one packed RGB buffer (width*height*3 bytes).
func (p *Producer) RGB() ([]byte, error) {
	return p.renderer.Render(p.store.Snapshot()).RGB(), nil
}

// Size returns the canvas dimensions.
func (p *Producer) Size() (width, height int) {
	return p.renderer.Size()
}

// Store returns the cache frames are rendered from.
func (p *Producer) Store() *cache.Store {
	return p.store
}
