package clickhouse

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/chrisconley/metricagg/internal"
	"github.com/chrisconley/metricagg/specs"
	"github.com/cockroachdb/errors"
)

const createTable = `
CREATE TABLE IF NOT EXISTS instance_usage (
	metric_id              String,
	aggregated_metric_name String,
	aggregation_period     String,
	tenant_id              String,
	user_id                String,
	resource_uuid          String,
	geolocation            String,
	region                 String,
	zone                   String,
	host                   String,
	project_id             String,
	service_group          String,
	service_id             String,
	quantity               Float64,
	record_count           Float64,
	firstrecord_timestamp  DateTime('UTC'),
	lastrecord_timestamp   DateTime('UTC'),
	usage_date             String,
	usage_hour             String,
	usage_minute           String,
	stored_at              DateTime('UTC')
) ENGINE = ReplacingMergeTree(stored_at)
ORDER BY (metric_id, tenant_id, user_id, resource_uuid, geolocation, region, zone, host,
	project_id, service_group, service_id, aggregation_period,
	firstrecord_timestamp, lastrecord_timestamp)
`

type Config struct {
	Addr     string
	Database string
	Username string
	Password string
}

// instanceUsageRow is one pre-hourly record as stored.
type instanceUsageRow struct {
	MetricID             string    `ch:"metric_id"`
	AggregatedMetricName string    `ch:"aggregated_metric_name"`
	AggregationPeriod    string    `ch:"aggregation_period"`
	TenantID             string    `ch:"tenant_id"`
	UserID               string    `ch:"user_id"`
	ResourceUUID         string    `ch:"resource_uuid"`
	Geolocation          string    `ch:"geolocation"`
	Region               string    `ch:"region"`
	Zone                 string    `ch:"zone"`
	Host                 string    `ch:"host"`
	ProjectID            string    `ch:"project_id"`
	ServiceGroup         string    `ch:"service_group"`
	ServiceID            string    `ch:"service_id"`
	Quantity             float64   `ch:"quantity"`
	RecordCount          float64   `ch:"record_count"`
	FirstRecordAt        time.Time `ch:"firstrecord_timestamp"`
	LastRecordAt         time.Time `ch:"lastrecord_timestamp"`
	UsageDate            string    `ch:"usage_date"`
	UsageHour            string    `ch:"usage_hour"`
	UsageMinute          string    `ch:"usage_minute"`
	StoredAt             time.Time `ch:"stored_at"`
}

func newInstanceUsageRow(record specs.InstanceUsageSpec, storedAt time.Time) instanceUsageRow {
	return instanceUsageRow{
		MetricID:             record.ProcessingMeta[internal.FieldMetricID],
		AggregatedMetricName: record.AggregatedMetricName,
		AggregationPeriod:    record.AggregationPeriod,
		TenantID:             record.TenantID,
		UserID:               record.UserID,
		ResourceUUID:         record.ResourceUUID,
		Geolocation:          record.Geolocation,
		Region:               record.Region,
		Zone:                 record.Zone,
		Host:                 record.Host,
		ProjectID:            record.ProjectID,
		ServiceGroup:         record.ServiceGroup,
		ServiceID:            record.ServiceID,
		Quantity:             record.Quantity,
		RecordCount:          record.RecordCount,
		FirstRecordAt:        time.Unix(int64(record.FirstRecordTimestampUnix), 0).UTC(),
		LastRecordAt:         time.Unix(int64(record.LastRecordTimestampUnix), 0).UTC(),
		UsageDate:            record.UsageDate,
		UsageHour:            record.UsageHour,
		UsageMinute:          record.UsageMinute,
		StoredAt:             storedAt.UTC(),
	}
}

// InstanceUsageStore is the pre-hourly sink backed by a ReplacingMergeTree
// table. One Store call is one batch insert. Rows share a sorting key when
// internal.PreHourlyKey matches, and the latest stored_at wins, so storing a
// retried batch again leaves one row per window.
type InstanceUsageStore struct {
	conn driver.Conn
	now  func() time.Time
}

var _ internal.PreHourlySink = (*InstanceUsageStore)(nil)

func Open(ctx context.Context, config Config) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{config.Addr},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect to clickhouse")
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "ping clickhouse")
	}
	return conn, nil
}

func NewInstanceUsageStore(conn driver.Conn) *InstanceUsageStore {
	return &InstanceUsageStore{conn: conn, now: time.Now}
}

// Migrate creates the instance_usage table if it does not exist.
func (s *InstanceUsageStore) Migrate(ctx context.Context) error {
	return errors.Wrap(s.conn.Exec(ctx, createTable), "create instance_usage")
}

func (s *InstanceUsageStore) Store(ctx context.Context, records []specs.InstanceUsageSpec) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO instance_usage")
	if err != nil {
		return errors.Wrap(err, "prepare instance_usage batch")
	}
	defer batch.Abort()

	storedAt := s.now()
	for i, record := range records {
		row := newInstanceUsageRow(record, storedAt)
		if err := batch.AppendStruct(&row); err != nil {
			return errors.Wrapf(err, "append instance usage %d", i)
		}
	}
	if err := batch.Send(); err != nil {
		return errors.Wrapf(err, "insert %d instance usage records", len(records))
	}
	return nil
}

// Count returns the stored records of one metric id and usage date, with
// replaced rows collapsed.
func (s *InstanceUsageStore) Count(ctx context.Context, metricID, usageDate string) (uint64, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		"SELECT count() FROM instance_usage FINAL WHERE metric_id = ? AND usage_date = ?", metricID, usageDate,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "count instance usage")
	}
	return count, nil
}

func (s *InstanceUsageStore) Close() error {
	return s.conn.Close()
}
