// Package naturalearth loads political-boundary polygons from the Natural
// Earth public archive mirror.
package naturalearth

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"

	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// ErrSourceNotFound indicates an invalid resolution/category/name combination.
var ErrSourceNotFound = errors.New("boundary source not found")

// defaultBaseURL is the NACIS CDN mirror of the Natural Earth downloads.
const defaultBaseURL = "https://naciscdn.org/naturalearth"

// Loader fetches and parses Natural Earth boundary shapefiles. Each Load
// call re-fetches and re-parses; there is no caching across calls.
type Loader struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLoader creates a boundary loader with the given HTTP timeout.
func NewLoader(timeout time.Duration, logger *slog.Logger) *Loader {
	return &Loader{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Load retrieves the shapefile selected by (resolution, category, name),
// e.g. ("110m", "cultural", "admin_0_countries"), and returns its polygons
// in the source's native ordering. Boundary IDs are positional. Each
// boundary's representative point is its centroid with longitude remapped
// to [0, 360); rows with unusable geometry are kept with a nil polygon so
// aggregation can emit a missing-data row for them.
func (l *Loader) Load(ctx context.Context, resolution, category, name string, attrNames []string) (*domain.BoundarySet, error) {
	source := fmt.Sprintf("ne_%s_%s", resolution, name)
	url := fmt.Sprintf("%s/%s/%s/%s.zip", l.baseURL, resolution, category, source)

	dir, err := os.MkdirTemp("", "naturalearth-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	archive := filepath.Join(dir, source+".zip")
	if err := l.download(ctx, url, archive); err != nil {
		return nil, err
	}

	shpPath, err := extractShapefile(archive, dir)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", source, err)
	}

	set, err := decodeShapefile(shpPath, source, attrNames)
	if err != nil {
		return nil, err
	}
	l.logger.Info("boundaries loaded", "source", source, "count", len(set.Boundaries))
	return set, nil
}

func (l *Loader) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

// extractShapefile unpacks a Natural Earth zip into dir and returns the path
// of the contained .shp file. Sidecar files (.dbf, .shx, .prj) land next to
// it so the shapefile decoder can find them by name.
func extractShapefile(archive, dir string) (string, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	var shpPath string
	for _, f := range r.File {
		// Flatten: Natural Earth archives are flat, but never trust zip paths.
		name := filepath.Base(f.Name)
		if name == "" || strings.HasPrefix(name, ".") {
			continue
		}
		dest := filepath.Join(dir, name)
		if err := extractFile(f, dest); err != nil {
			return "", err
		}
		if strings.EqualFold(filepath.Ext(name), ".shp") {
			shpPath = dest
		}
	}
	if shpPath == "" {
		return "", errors.New("archive contains no .shp file")
	}
	return shpPath, nil
}

func extractFile(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s in zip: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return nil
}

// LoadShapefile parses a shapefile already on disk, bypassing the download.
// The set's source is the file's base name.
func LoadShapefile(path string, attrNames []string) (*domain.BoundarySet, error) {
	source := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return decodeShapefile(path, source, attrNames)
}

// decodeShapefile reads every row of the shapefile, preserving source order.
func decodeShapefile(path, source string, attrNames []string) (*domain.BoundarySet, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", source, err)
	}
	defer dec.Close()

	set := &domain.BoundarySet{Source: source, AttrNames: attrNames}
	for {
		g, fields, more := dec.DecodeRowFields(attrNames...)
		if !more {
			break
		}
		set.Boundaries = append(set.Boundaries, newBoundary(len(set.Boundaries), g, fields, attrNames))
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("decode shapefile %s: %w", source, err)
	}
	return set, nil
}

func newBoundary(id int, g geom.Geom, fields map[string]string, attrNames []string) domain.Boundary {
	b := domain.Boundary{
		ID:    id,
		Attrs: fields,
	}
	if len(attrNames) > 0 {
		b.Name = fields[attrNames[0]]
	}

	poly, ok := g.(geom.Polygonal)
	if !ok {
		return b
	}
	rep, err := domain.RepresentativePoint(poly)
	if err != nil {
		// Degenerate geometry: keep the row, drop the polygon, so the
		// aggregator emits an all-missing row instead of failing.
		return b
	}
	b.Geom = poly
	b.Rep = rep
	return b
}
