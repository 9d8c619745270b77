package infrastructure

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"starpsf/internal/domain"
)

// CatalogReader loads star postage stamps from a plain-text catalog.
//
// Each star is a header line
//
//	u v w h dudx dudy dvdx dvdy
//
// followed by h rows of w pixel values and h rows of w weight values.
// Blank lines and lines starting with # are ignored.
type CatalogReader struct{}

func NewCatalogReader() *CatalogReader { return &CatalogReader{} }

func (r *CatalogReader) ReadStars(filename string) ([]*domain.Star, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var stars []*domain.Star
	lineNo := 0
	next := func() ([]string, bool) {
		for scanner.Scan() {
			lineNo++
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			return strings.Fields(line), true
		}
		return nil, false
	}

	for {
		fields, ok := next()
		if !ok {
			break
		}
		if len(fields) != 8 {
			return nil, fmt.Errorf("%w: line %d: star header needs 8 fields, got %d", domain.ErrInvalidCatalog, lineNo, len(fields))
		}
		vals := make([]float64, 8)
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidCatalog, lineNo, err)
			}
			vals[i] = v
		}
		w := int(vals[2])
		h := int(vals[3])
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("%w: line %d: invalid stamp size %dx%d", domain.ErrInvalidCatalog, lineNo, w, h)
		}

		image, err := r.readGrid(next, w, h, &lineNo)
		if err != nil {
			return nil, err
		}
		weight, err := r.readGrid(next, w, h, &lineNo)
		if err != nil {
			return nil, err
		}

		stars = append(stars, &domain.Star{
			Image:  image,
			Weight: weight,
			WCS:    domain.WCS{DuDx: vals[4], DuDy: vals[5], DvDx: vals[6], DvDy: vals[7]},
			Pos:    domain.Position{U: vals[0], V: vals[1]},
			Fit:    domain.NewFitRecord(),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	if len(stars) == 0 {
		return nil, fmt.Errorf("%w: catalog %s contains no stars", domain.ErrInvalidCatalog, filename)
	}
	return stars, nil
}

func (r *CatalogReader) readGrid(next func() ([]string, bool), w, h int, lineNo *int) (*domain.Image, error) {
	im := domain.NewImage(w, h)
	for y := 0; y < h; y++ {
		fields, ok := next()
		if !ok {
			return nil, fmt.Errorf("%w: unexpected end of catalog in pixel grid", domain.ErrInvalidCatalog)
		}
		if len(fields) != w {
			return nil, fmt.Errorf("%w: line %d: row has %d values, want %d", domain.ErrInvalidCatalog, *lineNo, len(fields), w)
		}
		for x, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidCatalog, *lineNo, err)
			}
			im.Set(x, y, v)
		}
	}
	return im, nil
}

// ResultWriter writes per-star fit results as a whitespace table.
type ResultWriter struct{}

func NewResultWriter() *ResultWriter { return &ResultWriter{} }

func (w *ResultWriter) WriteStars(filename string, stars []*domain.Star) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("creating results file: %w", err)
	}
	defer file.Close()

	bw := bufio.NewWriter(file)
	fmt.Fprintln(bw, "# u v flux du dv chisq dof used params...")
	for _, st := range stars {
		fit := st.Fit
		if fit == nil {
			fit = domain.NewFitRecord()
		}
		used := 0
		if st.UsedInFit {
			used = 1
		}
		fmt.Fprintf(bw, "%.8g %.8g %.8g %.8g %.8g %.8g %d %d",
			st.Pos.U, st.Pos.V, fit.Flux, fit.Center[0], fit.Center[1], fit.Chisq, fit.Dof, used)
		for _, p := range fit.Params {
			fmt.Fprintf(bw, " %.8g", p)
		}
		fmt.Fprintln(bw)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing results file: %w", err)
	}
	return nil
}
