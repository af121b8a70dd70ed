package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/Noofbiz/stagedata/images"
	"github.com/Noofbiz/stagedata/internal/ctxlog"
)

// Label is the value of a sample label field.
type Label interface {
	kind() string
}

// Classification is a single class label.
type Classification struct {
	Label string `json:"label"`
}

func (Classification) kind() string { return "classification" }

// Detection is one object. BoundingBox is [x, y, width, height] relative to
// the image size, with (x, y) the top-left corner.
type Detection struct {
	Label       string     `json:"label"`
	BoundingBox [4]float64 `json:"bounding_box"`
	// IsCrowd is optional; nil means unknown.
	IsCrowd *int `json:"iscrowd,omitempty"`
}

// Detections is a list of objects in one image.
type Detections struct {
	Detections []Detection `json:"detections"`
}

func (Detections) kind() string { return "detections" }

// ImageMetadata holds the pixel dimensions of a sample image.
type ImageMetadata struct {
	Width  int
	Height int
}

// Sample is one entry of a collection.
type Sample struct {
	ID       string
	Filepath string
	// Metadata is nil until computed or supplied.
	Metadata *ImageMetadata
	Fields   map[string]Label
}

// Collection is a named, ordered set of samples in a Store.
type Collection struct {
	store *Store
	name  string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// AddSample appends a sample and returns its generated ID.
func (c *Collection) AddSample(ctx context.Context, s Sample) (string, error) {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := addSample(ctx, tx, c.name, s)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit sample: %w", err)
	}
	return id, nil
}

func addSample(ctx context.Context, tx *sql.Tx, collection string, s Sample) (string, error) {
	var seq int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), -1) + 1 FROM samples WHERE collection = ?`, collection).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("failed to read next sequence: %w", err)
	}

	id := uuid.NewString()
	var width, height sql.NullInt64
	if s.Metadata != nil {
		width = sql.NullInt64{Int64: int64(s.Metadata.Width), Valid: true}
		height = sql.NullInt64{Int64: int64(s.Metadata.Height), Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO samples (sample_id, collection, seq, filepath, width, height) VALUES (?, ?, ?, ?, ?, ?)`,
		id, collection, seq, s.Filepath, width, height)
	if err != nil {
		return "", fmt.Errorf("failed to insert sample %s: %w", s.Filepath, err)
	}

	fields := make([]string, 0, len(s.Fields))
	for f := range s.Fields {
		fields = append(fields, f)
	}
	slices.Sort(fields)
	for _, f := range fields {
		label := s.Fields[f]
		payload, err := json.Marshal(label)
		if err != nil {
			return "", fmt.Errorf("failed to encode label %q: %w", f, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO labels (sample_id, field, kind, payload) VALUES (?, ?, ?, ?)`,
			id, f, label.kind(), string(payload))
		if err != nil {
			return "", fmt.Errorf("failed to insert label %q: %w", f, err)
		}
	}
	return id, nil
}

// AddSamples appends samples in one transaction and returns their IDs.
func (c *Collection) AddSamples(ctx context.Context, samples []Sample) ([]string, error) {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, len(samples))
	for i, s := range samples {
		if ids[i], err = addSample(ctx, tx, c.name, s); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit samples: %w", err)
	}
	return ids, nil
}

// AddLabeledImages appends one sample per file path. When labels is not nil
// it must align with filepaths and each label is stored as a Classification
// under field.
func (c *Collection) AddLabeledImages(ctx context.Context, filepaths []string, labels []string, field string) error {
	if labels != nil && len(labels) != len(filepaths) {
		return fmt.Errorf("%d file paths but %d labels", len(filepaths), len(labels))
	}
	samples := make([]Sample, len(filepaths))
	for i, path := range filepaths {
		samples[i] = Sample{Filepath: path}
		if labels != nil {
			samples[i].Fields = map[string]Label{field: Classification{Label: labels[i]}}
		}
	}
	_, err := c.AddSamples(ctx, samples)
	return err
}

// Len returns the number of samples.
func (c *Collection) Len(ctx context.Context) (int, error) {
	var n int
	err := c.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples WHERE collection = ?`, c.name).Scan(&n)
	return n, err
}

// Samples returns every sample in insertion order.
func (c *Collection) Samples(ctx context.Context) ([]Sample, error) {
	rows, err := c.store.db.QueryContext(ctx,
		`SELECT sample_id, filepath, width, height FROM samples WHERE collection = ? ORDER BY seq`, c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	var out []Sample
	index := make(map[string]int)
	for rows.Next() {
		var (
			s             Sample
			width, height sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &s.Filepath, &width, &height); err != nil {
			rows.Close()
			return nil, err
		}
		if width.Valid && height.Valid {
			s.Metadata = &ImageMetadata{Width: int(width.Int64), Height: int(height.Int64)}
		}
		s.Fields = make(map[string]Label)
		index[s.ID] = len(out)
		out = append(out, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lrows, err := c.store.db.QueryContext(ctx,
		`SELECT l.sample_id, l.field, l.kind, l.payload FROM labels l
		 JOIN samples s ON s.sample_id = l.sample_id WHERE s.collection = ?`, c.name)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer lrows.Close()
	for lrows.Next() {
		var id, field, kind, payload string
		if err := lrows.Scan(&id, &field, &kind, &payload); err != nil {
			return nil, err
		}
		label, err := decodeLabel(kind, payload)
		if err != nil {
			return nil, fmt.Errorf("sample %s field %q: %w", id, field, err)
		}
		out[index[id]].Fields[field] = label
	}
	return out, lrows.Err()
}

func decodeLabel(kind, payload string) (Label, error) {
	switch kind {
	case Classification{}.kind():
		var l Classification
		err := json.Unmarshal([]byte(payload), &l)
		return l, err
	case Detections{}.kind():
		var l Detections
		err := json.Unmarshal([]byte(payload), &l)
		return l, err
	}
	return nil, fmt.Errorf("unknown label kind %q", kind)
}

// SetClasses declares the class list of a label field.
func (c *Collection) SetClasses(ctx context.Context, field string, classes []string) error {
	payload, err := json.Marshal(classes)
	if err != nil {
		return err
	}
	_, err = c.store.db.ExecContext(ctx,
		`INSERT INTO collection_classes (collection, field, classes) VALUES (?, ?, ?)
		 ON CONFLICT (collection, field) DO UPDATE SET classes = excluded.classes`,
		c.name, field, string(payload))
	return err
}

// Classes returns the class list declared for field, if any.
func (c *Collection) Classes(ctx context.Context, field string) ([]string, bool, error) {
	var payload string
	err := c.store.db.QueryRowContext(ctx,
		`SELECT classes FROM collection_classes WHERE collection = ? AND field = ?`, c.name, field).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var classes []string
	if err := json.Unmarshal([]byte(payload), &classes); err != nil {
		return nil, false, err
	}
	return classes, true, nil
}

// SetDefaultClasses declares the class list used by fields without their own.
func (c *Collection) SetDefaultClasses(ctx context.Context, classes []string) error {
	payload, err := json.Marshal(classes)
	if err != nil {
		return err
	}
	_, err = c.store.db.ExecContext(ctx,
		`UPDATE collections SET default_classes = ? WHERE name = ?`, string(payload), c.name)
	return err
}

// DefaultClasses returns the collection-wide class list, if any.
func (c *Collection) DefaultClasses(ctx context.Context) ([]string, bool, error) {
	var payload sql.NullString
	err := c.store.db.QueryRowContext(ctx,
		`SELECT default_classes FROM collections WHERE name = ?`, c.name).Scan(&payload)
	if err != nil {
		return nil, false, err
	}
	if !payload.Valid {
		return nil, false, nil
	}
	var classes []string
	if err := json.Unmarshal([]byte(payload.String), &classes); err != nil {
		return nil, false, err
	}
	return classes, true, nil
}

// Distinct returns the sorted distinct label names found in field, across
// classifications and detections.
func (c *Collection) Distinct(ctx context.Context, field string) ([]string, error) {
	samples, err := c.Samples(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, s := range samples {
		switch l := s.Fields[field].(type) {
		case Classification:
			seen[l.Label] = true
		case Detections:
			for _, d := range l.Detections {
				seen[d.Label] = true
			}
		}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	slices.Sort(out)
	return out, nil
}

// ComputeMetadata decodes every image whose dimensions are unknown and
// stores its width and height.
func (c *Collection) ComputeMetadata(ctx context.Context) error {
	samples, err := c.Samples(ctx)
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx)
	for _, s := range samples {
		if s.Metadata != nil {
			continue
		}
		img, err := images.Open(s.Filepath)
		if err != nil {
			return err
		}
		size := images.Size(img)
		_, err = c.store.db.ExecContext(ctx,
			`UPDATE samples SET width = ?, height = ? WHERE sample_id = ?`, size[1], size[0], s.ID)
		if err != nil {
			return fmt.Errorf("failed to store metadata of %s: %w", s.Filepath, err)
		}
		logger.Debug("Computed image metadata.", "filepath", s.Filepath, "width", size[1], "height", size[0])
	}
	return nil
}
