package chain

import "fmt"

// Report aggregates the execution outcome of one chain run.
type Report struct {
	Items  int
	Failed int
}

// Message renders the externally visible summary. The four forms are
// fixed: no items, everything failed, partial failure, full success.
func (r Report) Message() string {
	switch {
	case r.Items == 0:
		return "No images selected"
	case r.Failed == r.Items:
		return "Failed denoising all images"
	case r.Failed > 0:
		return fmt.Sprintf("Failed denoising %d of %d images", r.Failed, r.Items)
	default:
		return "Finished denoising all images"
	}
}
