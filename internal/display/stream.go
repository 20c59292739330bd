package display

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/XiDee233/AndroidVideoTransToPC/internal/logger"
)

// blankJPEG renders the placeholder shown before the first frame arrives.
func blankJPEG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))

	// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255}, // White
		{R: 255, G: 255, B: 0, A: 255},   // Yellow
		{R: 0, G: 255, B: 255, A: 255},   // Cyan
		{R: 0, G: 255, B: 0, A: 255},     // Green
		{R: 255, G: 0, B: 255, A: 255},   // Magenta
		{R: 255, G: 0, B: 0, A: 255},     // Red
		{R: 0, G: 0, B: 255, A: 255},     // Blue
		{R: 0, G: 0, B: 0, A: 255},       // Black
	}

	barWidth := 640 / len(colors)
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			barIndex := x / barWidth
			if barIndex >= len(colors) {
				barIndex = len(colors) - 1
			}
			img.Set(x, y, colors[barIndex])
		}
	}

	drawLabel(img, 10, 240, "Waiting for frames...")

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawLabel renders one line of text over a black strip so it stays readable
// on any background.
func drawLabel(img *image.RGBA, x, y int, text string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()

	strip := image.Rect(x-4, y-face.Ascent-2, x+width+4, y+face.Descent+2)
	draw.Draw(img, strip.Intersect(img.Bounds()), image.NewUniform(color.RGBA{A: 255}), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 0, G: 255, B: 0, A: 255}),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

// Render produces the annotated JPEG view of a frame.
func (s *Sink) Render(frame Frame) ([]byte, error) {
	b := frame.Image.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), frame.Image, b.Min, draw.Src)

	drawLabel(canvas, 10, 20, "Android USB Camera Stream")
	drawLabel(canvas, 10, 40, s.statusLine(frame))
	if !frame.Timestamp.IsZero() {
		drawLabel(canvas, 10, 60, fmt.Sprintf("Latency: %dms", time.Since(frame.Timestamp).Milliseconds()))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: s.cfg.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ServeHTTP streams the annotated view as MJPEG at display cadence. The
// placeholder is sent until the first frame arrives and whenever rendering
// fails, so the client connection stays alive.
func (s *Sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	blank, err := blankJPEG()
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		jpegData := blank
		if frame, ok := s.src.CurrentFrame(); ok {
			if data, err := s.Render(frame); err == nil {
				jpegData = data
			}
		}

		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			logger.Debug("Display", "Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug("Display", "Client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("Display", "Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
