package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/climate-region-etl/internal/config"
	"github.com/couchcryptid/climate-region-etl/internal/domain"
	"github.com/couchcryptid/climate-region-etl/internal/observability"
	"github.com/couchcryptid/climate-region-etl/internal/pipeline"
)

// --- mocks ---

type mockLoader struct {
	sets map[string]*domain.BoundarySet
	errs map[string]error
}

func (m *mockLoader) Load(_ context.Context, _, _, name string, _ []string) (*domain.BoundarySet, error) {
	if err := m.errs[name]; err != nil {
		return nil, err
	}
	set, ok := m.sets[name]
	if !ok {
		return nil, errors.New("unknown dataset")
	}
	return set, nil
}

type mockRetriever struct {
	fields map[string]*domain.Field
	errs   map[string]error
}

func (m *mockRetriever) RetrieveField(_ context.Context, variable string) (*domain.Field, error) {
	if err := m.errs[variable]; err != nil {
		return nil, err
	}
	field, ok := m.fields[variable]
	if !ok {
		return nil, errors.New("unknown variable")
	}
	return field, nil
}

type mockExporter struct {
	tables []*domain.Table
	err    error
}

func (m *mockExporter) Export(_ context.Context, table *domain.Table) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.tables = append(m.tables, table)
	return "out/" + table.Source + "_" + table.Variable + ".csv", nil
}

type mockPublisher struct {
	published []*domain.Table
	err       error
}

func (m *mockPublisher) PublishTable(_ context.Context, table *domain.Table) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, table)
	return nil
}

// --- fixtures ---

func testConfig() *config.Config {
	return &config.Config{
		Variables:     []string{"2m_temperature"},
		NEResolution:  "110m",
		CountryAttrs:  []string{"NAME"},
		StateAttrs:    []string{"name"},
		Workers:       2,
		SnapTolerance: 1.0,
	}
}

// testField covers a single month on a 1x2 grid at 300K.
func testField() *domain.Field {
	data := sparse.ZerosDense(1, 1, 2)
	data.Set(300, 0, 0, 0)
	data.Set(302, 0, 0, 1)
	return &domain.Field{
		Variable: "t2m",
		Unit:     "K",
		Times:    []time.Time{time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		Lats:     []float64{10},
		Lons:     []float64{20, 21},
		Data:     data,
	}
}

func testSet(source string) *domain.BoundarySet {
	poly := geom.Polygon{{
		{X: 19.5, Y: 9.5},
		{X: 21.5, Y: 9.5},
		{X: 21.5, Y: 10.5},
		{X: 19.5, Y: 10.5},
	}}
	return &domain.BoundarySet{
		Source:    source,
		AttrNames: []string{"NAME"},
		Boundaries: []domain.Boundary{
			{ID: 0, Name: "Region", Attrs: map[string]string{"NAME": "Region"}, Geom: poly, Rep: geom.Point{X: 20.5, Y: 10}},
		},
	}
}

func newJob(l *mockLoader, r *mockRetriever, e *mockExporter, p pipeline.SeriesPublisher, cfg *config.Config) *pipeline.Job {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pipeline.New(l, r, e, p, cfg, logger, observability.NewMetricsForTesting())
}

func defaultLoader() *mockLoader {
	return &mockLoader{sets: map[string]*domain.BoundarySet{
		"admin_0_countries":        testSet("ne_110m_admin_0_countries"),
		"admin_1_states_provinces": testSet("ne_110m_admin_1_states_provinces"),
	}}
}

// --- tests ---

func TestJob_Run_ExportsTablePerTargetAndVariable(t *testing.T) {
	ldr := defaultLoader()
	ret := &mockRetriever{fields: map[string]*domain.Field{"2m_temperature": testField()}}
	exp := &mockExporter{}

	j := newJob(ldr, ret, exp, nil, testConfig())
	require.NoError(t, j.Run(context.Background()))

	require.Len(t, exp.tables, 2)
	assert.Equal(t, "ne_110m_admin_0_countries", exp.tables[0].Source)
	assert.Equal(t, "ne_110m_admin_1_states_provinces", exp.tables[1].Source)

	got := exp.tables[0]
	assert.Equal(t, "degC", got.Unit)
	if diff := cmp.Diff([]string{"2023-01"}, got.Periods); diff != "" {
		t.Fatalf("periods mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, got.Rows, 1)
	// Mean of 300K and 302K, converted to Celsius.
	assert.InDelta(t, 27.85, got.Rows[0].Values[0], 1e-9)
}

func TestJob_Readiness(t *testing.T) {
	ldr := defaultLoader()
	ret := &mockRetriever{fields: map[string]*domain.Field{"2m_temperature": testField()}}
	exp := &mockExporter{}

	j := newJob(ldr, ret, exp, nil, testConfig())
	require.Error(t, j.CheckReadiness(context.Background()))

	require.NoError(t, j.Run(context.Background()))
	assert.NoError(t, j.CheckReadiness(context.Background()))
}

func TestJob_Run_SkipsFailedVariable(t *testing.T) {
	cfg := testConfig()
	cfg.Variables = []string{"2m_temperature", "total_precipitation"}

	ldr := defaultLoader()
	ret := &mockRetriever{
		fields: map[string]*domain.Field{"2m_temperature": testField()},
		errs:   map[string]error{"total_precipitation": errors.New("quota exceeded")},
	}
	exp := &mockExporter{}

	j := newJob(ldr, ret, exp, nil, cfg)
	require.NoError(t, j.Run(context.Background()))

	// Both targets still export the variable that was retrieved.
	assert.Len(t, exp.tables, 2)
	for _, table := range exp.tables {
		assert.Equal(t, "t2m", table.Variable)
	}
}

func TestJob_Run_SkipsFailedTarget(t *testing.T) {
	ldr := defaultLoader()
	ldr.errs = map[string]error{"admin_0_countries": errors.New("mirror down")}
	ret := &mockRetriever{fields: map[string]*domain.Field{"2m_temperature": testField()}}
	exp := &mockExporter{}

	j := newJob(ldr, ret, exp, nil, testConfig())
	require.NoError(t, j.Run(context.Background()))

	require.Len(t, exp.tables, 1)
	assert.Equal(t, "ne_110m_admin_1_states_provinces", exp.tables[0].Source)
}

func TestJob_Run_NoVariableRetrieved(t *testing.T) {
	ret := &mockRetriever{errs: map[string]error{"2m_temperature": errors.New("down")}}

	j := newJob(defaultLoader(), ret, &mockExporter{}, nil, testConfig())
	err := j.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no variable")
}

func TestJob_Run_NothingExported(t *testing.T) {
	ret := &mockRetriever{fields: map[string]*domain.Field{"2m_temperature": testField()}}
	exp := &mockExporter{err: errors.New("disk full")}

	j := newJob(defaultLoader(), ret, exp, nil, testConfig())
	err := j.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no table")
	assert.Error(t, j.CheckReadiness(context.Background()))
}

func TestJob_Run_PublishesSeries(t *testing.T) {
	ret := &mockRetriever{fields: map[string]*domain.Field{"2m_temperature": testField()}}
	exp := &mockExporter{}
	pub := &mockPublisher{}

	j := newJob(defaultLoader(), ret, exp, pub, testConfig())
	require.NoError(t, j.Run(context.Background()))

	assert.Len(t, pub.published, 2)
}

func TestJob_Run_PublishFailureDoesNotFailExport(t *testing.T) {
	ret := &mockRetriever{fields: map[string]*domain.Field{"2m_temperature": testField()}}
	exp := &mockExporter{}
	pub := &mockPublisher{err: errors.New("broker unreachable")}

	j := newJob(defaultLoader(), ret, exp, pub, testConfig())
	require.NoError(t, j.Run(context.Background()))

	assert.Len(t, exp.tables, 2)
}

func TestJob_Run_ContextCancelled(t *testing.T) {
	ret := &mockRetriever{fields: map[string]*domain.Field{"2m_temperature": testField()}}
	exp := &mockExporter{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	j := newJob(defaultLoader(), ret, exp, nil, testConfig())
	err := j.Run(ctx)
	require.Error(t, err)
	assert.Empty(t, exp.tables)
}

func TestJob_Run_TruncatesBeforeStartPeriod(t *testing.T) {
	cfg := testConfig()
	cfg.StartPeriod = "2023-02"

	field := testField()
	field.Times = append(field.Times, time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC))
	data := sparse.ZerosDense(2, 1, 2)
	data.Set(300, 0, 0, 0)
	data.Set(302, 0, 0, 1)
	data.Set(280, 1, 0, 0)
	data.Set(282, 1, 0, 1)
	field.Data = data

	ret := &mockRetriever{fields: map[string]*domain.Field{"2m_temperature": field}}
	exp := &mockExporter{}

	j := newJob(defaultLoader(), ret, exp, nil, cfg)
	require.NoError(t, j.Run(context.Background()))

	require.NotEmpty(t, exp.tables)
	got := exp.tables[0]
	assert.Equal(t, []string{"2023-02"}, got.Periods)
	require.Len(t, got.Rows[0].Values, 1)
	assert.InDelta(t, 7.85, got.Rows[0].Values[0], 1e-9)
}
