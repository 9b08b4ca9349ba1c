package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"imgtrain/domain"
	"imgtrain/labels"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// collectImagePaths expands directories into the image files below them.
// Files named explicitly are kept whatever their extension.
func collectImagePaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, &domain.Error{Op: "imgtrain.collect", Kind: domain.KindInvalidInput, Path: arg, Err: err}
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && imageExts[strings.ToLower(filepath.Ext(path))] {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, &domain.Error{Op: "imgtrain.collect", Kind: domain.KindInvalidInput, Path: arg, Err: err}
		}
	}
	return paths, nil
}

func readImages(paths []string) ([]domain.RawImage, error) {
	images := make([]domain.RawImage, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &domain.Error{Op: "imgtrain.read", Kind: domain.KindInvalidInput, Path: path, Err: err}
		}
		images = append(images, domain.RawImage{Name: path, Data: data})
	}
	return images, nil
}

// readManifest parses "filename class" lines. Blank lines and lines starting
// with # are skipped.
func readManifest(path string) (map[string]string, error) {
	const op = "imgtrain.manifest"
	file, err := os.Open(path)
	if err != nil {
		return nil, &domain.Error{Op: op, Kind: domain.KindInvalidInput, Path: path, Err: err}
	}
	defer file.Close()

	out := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, &domain.Error{Op: op, Kind: domain.KindInvalidInput, Path: path,
				Err: fmt.Errorf("line %d: want \"filename class\", got %q", line, text)}
		}
		out[fields[0]] = fields[1]
	}
	if err := scanner.Err(); err != nil {
		return nil, &domain.Error{Op: op, Kind: domain.KindInvalidInput, Path: path, Err: err}
	}
	return out, nil
}

// parseLabelFlags turns repeated file=class flags into a map.
func parseLabelFlags(flags []string) (map[string]string, error) {
	out := make(map[string]string, len(flags))
	for _, f := range flags {
		file, class, ok := strings.Cut(f, "=")
		if !ok || file == "" || class == "" {
			return nil, domain.Errorf("imgtrain.label_flag", domain.KindInvalidInput, "want file=class, got %q", f)
		}
		out[file] = class
	}
	return out, nil
}

// selectionsFor resolves explicit class assignments for images by full name
// or base name. Images without one get labels.Unset.
func selectionsFor(images []domain.RawImage, assigned map[string]string, c *labels.Collector, log *slog.Logger) ([]int, error) {
	selections := make([]int, len(images))
	used := make(map[string]bool, len(assigned))
	for i, img := range images {
		selections[i] = labels.Unset
		key := img.Name
		class, ok := assigned[key]
		if !ok {
			key = filepath.Base(img.Name)
			class, ok = assigned[key]
		}
		if !ok {
			continue
		}
		idx, err := c.ParseClass(class)
		if err != nil {
			return nil, &domain.Error{Op: "imgtrain.labels", Kind: domain.KindInvalidInput, Path: img.Name, Err: err}
		}
		selections[i] = idx
		used[key] = true
	}
	var unused []string
	for name := range assigned {
		if !used[name] {
			unused = append(unused, name)
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		log.Warn("labels.unmatched", "files", unused)
	}
	return selections, nil
}

// CIFAR-10 binary batches: one label byte followed by 32x32 red, green and
// blue planes.
const (
	cifarSide  = 32
	cifarPlane = cifarSide * cifarSide
	cifarRow   = 1 + 3*cifarPlane
)

var cifarClasses = [...]string{
	"airplane", "automobile", "bird", "cat", "deer",
	"dog", "frog", "horse", "ship", "truck",
}

// loadCIFAR10 reads a CIFAR-10 batch and keeps the records whose class is in
// classes, up to limit records (0 means all). Each record is re-encoded as a
// PNG and paired with its class index.
func loadCIFAR10(path string, classes []string, limit int) ([]domain.RawImage, []int, error) {
	const op = "imgtrain.cifar"
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, &domain.Error{Op: op, Kind: domain.KindInvalidInput, Path: path, Err: err}
	}
	defer file.Close()

	want := make(map[string]int, len(classes))
	for i, name := range classes {
		want[name] = i
	}

	var (
		images     []domain.RawImage
		selections []int
	)
	r := bufio.NewReader(file)
	row := make([]byte, cifarRow)
	for idx := 0; limit <= 0 || len(images) < limit; idx++ {
		if _, err := io.ReadFull(r, row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, nil, &domain.Error{Op: op, Kind: domain.KindDecode, Path: path, Err: fmt.Errorf("record %d: %w", idx, err)}
		}
		if int(row[0]) >= len(cifarClasses) {
			return nil, nil, &domain.Error{Op: op, Kind: domain.KindDecode, Path: path, Err: fmt.Errorf("record %d: label %d out of range", idx, row[0])}
		}
		class, ok := want[cifarClasses[row[0]]]
		if !ok {
			continue
		}
		data, err := cifarPNG(row[1:])
		if err != nil {
			return nil, nil, &domain.Error{Op: op, Kind: domain.KindDecode, Path: path, Err: err}
		}
		images = append(images, domain.RawImage{Name: fmt.Sprintf("%s#%d", filepath.Base(path), idx), Data: data})
		selections = append(selections, class)
	}
	return images, selections, nil
}

func cifarPNG(planes []byte) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, cifarSide, cifarSide))
	for y := 0; y < cifarSide; y++ {
		for x := 0; x < cifarSide; x++ {
			p := y*cifarSide + x
			img.SetNRGBA(x, y, color.NRGBA{R: planes[p], G: planes[cifarPlane+p], B: planes[2*cifarPlane+p], A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
