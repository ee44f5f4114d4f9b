package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/climate-region-etl/internal/config"
	"github.com/couchcryptid/climate-region-etl/internal/domain"
)

// Writer produces aggregated boundary series to a Kafka topic, one message
// per boundary row. It implements pipeline.SeriesPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured series topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishTable serializes every row of a table and publishes them in a
// single WriteMessages call for efficiency.
func (w *Writer) PublishTable(ctx context.Context, table *domain.Table) error {
	if len(table.Rows) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(table.Rows))
	for i := range table.Rows {
		msg, err := serializeToMessage(table, table.Rows[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %s/%s: %w", table.Source, table.Variable, err)
	}
	w.logger.Info("series published",
		"source", table.Source, "variable", table.Variable, "rows", len(table.Rows))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// seriesRecord is the wire form of one boundary's aggregated series.
// Missing values are encoded as nulls since NaN is not valid JSON.
type seriesRecord struct {
	BoundaryID int               `json:"boundary_id"`
	Name       string            `json:"name"`
	Attrs      map[string]string `json:"attrs,omitempty"`
	Source     string            `json:"source"`
	Variable   string            `json:"variable"`
	Unit       string            `json:"unit"`
	Periods    []string          `json:"periods"`
	Values     []*float64        `json:"values"`
	Fallback   bool              `json:"fallback,omitempty"`
}

// serializeToMessage marshals one table row into a Kafka message keyed by
// boundary name so a boundary's series always lands on one partition.
func serializeToMessage(table *domain.Table, row domain.Row) (kafkago.Message, error) {
	values := make([]*float64, len(row.Values))
	for i, v := range row.Values {
		if math.IsNaN(v) {
			continue
		}
		v := v
		values[i] = &v
	}

	data, err := json.Marshal(seriesRecord{
		BoundaryID: row.BoundaryID,
		Name:       row.Name,
		Attrs:      row.Attrs,
		Source:     table.Source,
		Variable:   table.Variable,
		Unit:       table.Unit,
		Periods:    table.Periods,
		Values:     values,
		Fallback:   row.Fallback,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize boundary series: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(row.Name),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "variable", Value: []byte(table.Variable)},
			{Key: "generated_at", Value: []byte(table.GeneratedAt.Format(time.RFC3339))},
		},
	}, nil
}
