// Package imageproc turns raw payload bytes into canonical images.
//
// Pipeline order:
// - persist the raw payload (best effort, failures are logged only)
// - strip the trailing frame terminator
// - decode jpeg/png/gif/webp
// - force 8-bit NRGBA
// - rotate 180 degrees (same width and height)
//
// Fit is the explicit resize stage run before classification.
package imageproc
