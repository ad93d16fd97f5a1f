package decisionlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"weexagent/internal/decision"

	_ "modernc.org/sqlite"
)

// recordModel 对应 decision_records 表，一行一条信号或执行记录。
type recordModel struct {
	ID            int64          `gorm:"column:id;primaryKey;autoIncrement"`
	TraceID       string         `gorm:"column:trace_id;index"`
	Timestamp     int64          `gorm:"column:ts;index"`
	Stage         string         `gorm:"column:stage"`
	Strategy      string         `gorm:"column:strategy"`
	Source        string         `gorm:"column:source;index"`
	Model         string         `gorm:"column:model"`
	Symbol        string         `gorm:"column:symbol"`
	Side          string         `gorm:"column:side"`
	Price         float64        `gorm:"column:price"`
	Approved      bool           `gorm:"column:approved"`
	Confidence    *float64       `gorm:"column:confidence"`
	Input         datatypes.JSON `gorm:"column:input"`
	Output        datatypes.JSON `gorm:"column:output"`
	Explanation   string         `gorm:"column:explanation"`
	OrderID       string         `gorm:"column:order_id"`
	ClientOrderID string         `gorm:"column:client_order_id"`
}

func (recordModel) TableName() string { return "decision_records" }

// Store 是本地决策审计库（SQLite，纯 Go 驱动）。
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	ownsDB bool
}

// Open 打开（或创建）path 处的 SQLite 文件。
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("decision log path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	s, err := UseExternalDB(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// UseExternalDB 复用外部初始化的 *sql.DB（例如测试中的内存库），Close 时不关闭它。
func UseExternalDB(sqlDB *sql.DB) (*Store, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("external db 不能为空")
	}
	db, err := gorm.Open(sqlite.New(sqlite.Config{DriverName: "sqlite", Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&recordModel{}); err != nil {
		return nil, fmt.Errorf("migrate decision_records: %w", err)
	}
	return &Store{db: db, sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	if s == nil || !s.ownsDB || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record 实现 decision.Recorder。
func (s *Store) Record(ctx context.Context, rec decision.Record) error {
	m, err := toModel(rec)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("insert decision record: %w", err)
	}
	return nil
}

// Query 过滤条件，零值字段不参与过滤。
type Query struct {
	TraceID string
	Source  decision.Source
	Stage   decision.Stage
	Limit   int
}

// List 按时间倒序返回记录。
func (s *Store) List(ctx context.Context, q Query) ([]decision.Record, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	tx := s.db.WithContext(ctx).Model(&recordModel{})
	if q.TraceID != "" {
		tx = tx.Where("trace_id = ?", q.TraceID)
	}
	if q.Source != "" {
		tx = tx.Where("source = ?", string(q.Source))
	}
	if q.Stage != "" {
		tx = tx.Where("stage = ?", string(q.Stage))
	}
	var rows []recordModel
	if err := tx.Order("ts DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]decision.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromModel(r))
	}
	return out, nil
}

func toModel(rec decision.Record) (recordModel, error) {
	input, err := encodeMap(rec.Input)
	if err != nil {
		return recordModel{}, fmt.Errorf("encode input: %w", err)
	}
	output, err := encodeMap(rec.Output)
	if err != nil {
		return recordModel{}, fmt.Errorf("encode output: %w", err)
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return recordModel{
		TraceID:       rec.TraceID,
		Timestamp:     ts.UnixMilli(),
		Stage:         string(rec.Stage),
		Strategy:      rec.Strategy,
		Source:        string(rec.Source),
		Model:         rec.Model,
		Symbol:        rec.Symbol,
		Side:          rec.Side,
		Price:         rec.Price,
		Approved:      rec.Approved,
		Confidence:    rec.Confidence,
		Input:         input,
		Output:        output,
		Explanation:   rec.Explanation,
		OrderID:       rec.OrderID,
		ClientOrderID: rec.ClientOrderID,
	}, nil
}

func fromModel(m recordModel) decision.Record {
	return decision.Record{
		TraceID:       m.TraceID,
		Timestamp:     time.UnixMilli(m.Timestamp).UTC(),
		Stage:         decision.Stage(m.Stage),
		Strategy:      m.Strategy,
		Source:        decision.Source(m.Source),
		Model:         m.Model,
		Symbol:        m.Symbol,
		Side:          m.Side,
		Price:         m.Price,
		Approved:      m.Approved,
		Confidence:    m.Confidence,
		Input:         decodeMap(m.Input),
		Output:        decodeMap(m.Output),
		Explanation:   m.Explanation,
		OrderID:       m.OrderID,
		ClientOrderID: m.ClientOrderID,
	}
}

func encodeMap(v map[string]any) (datatypes.JSON, error) {
	if len(v) == 0 {
		return datatypes.JSON("{}"), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func decodeMap(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || len(out) == 0 {
		return nil
	}
	return out
}
