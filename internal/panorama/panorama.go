// Package panorama composites the three forward camera images into a
// wide panorama and produces a compressed thumbnail for storage. The
// thumbnail is best-effort decoration: every failure path degrades to
// nil rather than aborting frame processing.
package panorama

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png" // decode support for PNG camera payloads

	xdraw "golang.org/x/image/draw"

	"github.com/banshee-data/motion.report/internal/e2ed"
	"github.com/banshee-data/motion.report/internal/monitoring"
)

// Options are the compositing policy knobs.
type Options struct {
	// Width is the panorama width after stitching, in pixels.
	Width int
	// ThumbWidth is the maximum thumbnail width, in pixels.
	ThumbWidth int
	// Quality is the JPEG encode quality for the stored thumbnail.
	Quality int
}

// DefaultOptions returns the policy defaults: 4096px panorama, 512px
// thumbnail, JPEG quality 75.
func DefaultOptions() Options {
	return Options{Width: 4096, ThumbWidth: 512, Quality: 75}
}

// placeholderWidth is the panel width substituted for a missing camera.
const placeholderWidth = 400

// frontCameras is the fixed left/center/right panel order. The first
// decodable image in this order sets the reference height.
var frontCameras = []e2ed.Camera{
	e2ed.CameraFrontLeft,
	e2ed.CameraFrontCenter,
	e2ed.CameraFrontRight,
}

// Decode decodes the forward camera payloads of a frame. Cameras whose
// payloads fail to decode are dropped with a diagnostic; a frame with
// no usable imagery yields an empty map.
func Decode(images []e2ed.CameraImage) map[e2ed.Camera]image.Image {
	out := make(map[e2ed.Camera]image.Image, 3)
	for _, ci := range images {
		switch ci.Camera {
		case e2ed.CameraFrontLeft, e2ed.CameraFrontCenter, e2ed.CameraFrontRight:
		default:
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(ci.Data))
		if err != nil {
			monitoring.Debugf("could not decode %s image: %v", ci.Camera, err)
			continue
		}
		out[ci.Camera] = img
	}
	return out
}

// Composite stitches the three forward cameras and returns the encoded
// thumbnail bytes, or nil when no camera imagery is available or any
// stage fails.
func Composite(images map[e2ed.Camera]image.Image, o Options) []byte {
	refHeight := 0
	for _, cam := range frontCameras {
		if img, ok := images[cam]; ok {
			refHeight = img.Bounds().Dy()
			break
		}
	}
	if refHeight <= 0 {
		return nil
	}

	// Resize each panel to the reference height, substituting a black
	// placeholder for missing cameras so the composite always has
	// three panels.
	panels := make([]image.Image, 0, len(frontCameras))
	totalWidth := 0
	for _, cam := range frontCameras {
		img, ok := images[cam]
		var panel image.Image
		if ok && img.Bounds().Dy() > 0 {
			panel = scaleToHeight(img, refHeight)
		} else {
			panel = image.NewRGBA(image.Rect(0, 0, placeholderWidth, refHeight))
		}
		panels = append(panels, panel)
		totalWidth += panel.Bounds().Dx()
	}

	composite := image.NewRGBA(image.Rect(0, 0, totalWidth, refHeight))
	x := 0
	for _, panel := range panels {
		w := panel.Bounds().Dx()
		xdraw.Draw(composite, image.Rect(x, 0, x+w, refHeight), panel, panel.Bounds().Min, xdraw.Src)
		x += w
	}

	pano := scaleToWidth(composite, o.Width)
	thumb := scaleToWidth(pano, o.ThumbWidth)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: o.Quality}); err != nil {
		monitoring.Debugf("could not encode thumbnail: %v", err)
		return nil
	}
	return buf.Bytes()
}

// scaleToHeight rescales img to the given height, preserving aspect.
func scaleToHeight(img image.Image, height int) image.Image {
	b := img.Bounds()
	if b.Dy() == height {
		return img
	}
	width := b.Dx() * height / b.Dy()
	if width < 1 {
		width = 1
	}
	return scale(img, width, height)
}

// scaleToWidth rescales img to the given width, preserving aspect.
func scaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	if b.Dx() == width || b.Dx() == 0 {
		return img
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	return scale(img, width, height)
}

func scale(img image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}
