// Package sensorstream renders Home Assistant sensor readings as live video.
//
// A small set of templated text lines is resolved against a shared sensor
// cache and the wall clock, drawn centered in white on a black canvas, and
// streamed either as MJPEG over HTTP or as H.264 over RTSP.
//
// # Quick Start
//
//	store := cache.New()
//	lines := []string{"{time:%H:%M}", "Ute {sensor.outdoor}°"}
//	resolver, err := template.NewResolver("sv_SE", lines)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	font, _ := render.LoadFont("", 48)
//
//	renderer, err := render.New(render.Config{
//	    Width:    640,
//	    Height:   360,
//	    FontSize: 48,
//	    Lines:    lines,
//	}, font, resolver)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	producer, _ := sensorstream.NewProducer(store, renderer, 80)
//	server, err := sensorstream.NewMJPEGServer(sensorstream.Config{
//	    Address: ":8080",
//	    Width:   640,
//	    Height:  360,
//	    FPS:     5,
//	}, producer, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Feed the cache from Home Assistant in the background
//	go poller.Run(ctx)
//
//	log.Fatal(server.Run(ctx))
//
// # Templates
//
// Lines may mix any number of placeholders with literal text:
//
//   - {time:<strftime format>} formats the current local time, e.g. {time:%H:%M}
//   - {sensor.<id>} inserts the cached state of sensor.<id>, or "?" when unknown
//
// Numeric sensor values use a decimal comma for comma locales (sv, de, fr,
// ...), so "22.5" renders as "22,5" under sv_SE. Values with more than one
// dot, like IP addresses, are left alone.
//
// # Transports
//
// MJPEG: GET /stream returns multipart/x-mixed-replace with boundary "frame".
// Every consumer runs its own ticker at 1000/fps milliseconds and gets freshly
// rendered frames. A failed render skips one tick and the stream continues.
//
// RTSP: rtsp://host:port/stream. Each session owns a GStreamer pipeline
// (appsrc → videoconvert → x264enc → rtph264pay → appsink) fed on demand
// with raw RGB frames. Presentation timestamps start at zero and advance by
// exactly 1e9/fps nanoseconds per request, including requests whose render
// failed. Pipeline errors are classified and the pipeline is rebuilt with
// exponential backoff while the session lives.
//
// # Statistics
//
// Both servers expose Stats() with atomic counters and the measured delivery
// rate, and DeliveryStats() with FPS stability and jitter over recent frames.
// With metrics enabled the same figures are exported for Prometheus.
package sensorstream
