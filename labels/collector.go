// Package labels assigns a class to every selected image.
package labels

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"imgtrain/domain"
)

// Unset marks an image without an explicit user selection.
const Unset = -1

// Collector maps images to one-hot labels. Classes are in priority order:
// the filename heuristic tries every class but the last, which is the fallback.
// An empty Classes means domain.DefaultClasses.
type Collector struct {
	Classes []string
	Logger  *slog.Logger
}

// NewCollector returns a collector for the default {cat, dog} class set.
func NewCollector() *Collector {
	return &Collector{Classes: append([]string(nil), domain.DefaultClasses...)}
}

// Collect returns one label per image, index-aligned with images.
// selections[i] is used verbatim when it is a valid class index; Unset, a
// missing entry or an out-of-range index falls back to the filename heuristic.
func (c *Collector) Collect(images []domain.RawImage, selections []int) []domain.Label {
	classes := c.classes()
	out := make([]domain.Label, len(images))
	for i, img := range images {
		class := Unset
		if i < len(selections) {
			class = selections[i]
		}
		if class != Unset && (class < 0 || class >= len(classes)) {
			c.logger().Warn("labels.selection_out_of_range", "image", img.Name, "class", class)
			class = Unset
		}
		if class == Unset {
			class = c.Infer(img.Name)
		}
		// class is always in range here
		out[i], _ = domain.OneHot(class, len(classes))
	}
	return out
}

// Infer guesses a class from a filename. It only looks at the name, never the
// pixels, so it is a convenience and not a reliable labeler.
func (c *Collector) Infer(name string) int {
	classes := c.classes()
	lower := strings.ToLower(name)
	last := len(classes) - 1
	for i := 0; i < last; i++ {
		if classes[i] != "" && strings.Contains(lower, strings.ToLower(classes[i])) {
			return i
		}
	}
	return last
}

// ParseClass resolves a class name (case-insensitive) or a numeric index.
func (c *Collector) ParseClass(s string) (int, error) {
	classes := c.classes()
	s = strings.TrimSpace(s)
	for i, name := range classes {
		if strings.EqualFold(name, s) {
			return i, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(classes) {
		return n, nil
	}
	return Unset, &domain.Error{Op: "labels.parse_class", Kind: domain.KindInvalidInput,
		Err: fmt.Errorf("unknown class %q (want one of %s)", s, strings.Join(classes, ", "))}
}

func (c *Collector) classes() []string {
	if len(c.Classes) == 0 {
		return domain.DefaultClasses
	}
	return c.Classes
}

func (c *Collector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
