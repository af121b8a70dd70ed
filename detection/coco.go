// Package detection loads object detection data from COCO annotation files
// and from labeled collections, producing one target record per image.
package detection

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"
)

// COCO is the subset of a COCO annotation file used here.
type COCO struct {
	Images      []COCOImage      `json:"images"`
	Annotations []COCOAnnotation `json:"annotations"`
	Categories  []COCOCategory   `json:"categories"`
}

// COCOImage is one entry of the "images" array.
type COCOImage struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// COCOAnnotation is one object. BBox is [x, y, width, height] in pixels.
type COCOAnnotation struct {
	ID         int64      `json:"id"`
	ImageID    int64      `json:"image_id"`
	CategoryID int        `json:"category_id"`
	BBox       [4]float64 `json:"bbox"`
	Area       *float64   `json:"area,omitempty"`
	IsCrowd    int        `json:"iscrowd"`
}

// COCOCategory is one entry of the "categories" array.
type COCOCategory struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory,omitempty"`
}

// ReadCOCO parses the annotation file at path. Files ending in ".gz" or
// ".xz" are decompressed on the fly.
func ReadCOCO(path string) (*COCO, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open annotation file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(path, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read gzip annotation file %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(path, ".xz"):
		xzr, err := xz.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read xz annotation file %s: %w", path, err)
		}
		r = xzr
	}

	var c COCO
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode annotation file %s: %w", path, err)
	}
	return &c, nil
}

// NumClasses returns the largest category id plus one, so that category ids
// can be used directly as class indices. It returns false without categories
// or when every category id is negative.
func (c *COCO) NumClasses() (int, bool) {
	if len(c.Categories) == 0 {
		return 0, false
	}
	maxID := c.Categories[0].ID
	for _, cat := range c.Categories[1:] {
		maxID = max(maxID, cat.ID)
	}
	if maxID < 0 {
		return 0, false
	}
	return maxID + 1, true
}

// AnnotationsByImage groups annotations by image id, keeping file order.
func (c *COCO) AnnotationsByImage() map[int64][]COCOAnnotation {
	out := make(map[int64][]COCOAnnotation, len(c.Images))
	for _, a := range c.Annotations {
		out[a.ImageID] = append(out[a.ImageID], a)
	}
	return out
}
