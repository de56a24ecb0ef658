package NetMonitor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL 驱动
	_ "github.com/lib/pq"              // PostgreSQL 驱动
)

// SQLRangeStorage 是地址段存储的 SQL 实现
type SQLRangeStorage struct {
	db         *sql.DB
	driverName string
	dialect    *sqlDialect
}

// SQLConfig 存储 SQL 连接配置
//
// MySQL 的 DataSourceName 需要带上 parseTime=true，否则无法读取可用性记录的时间。
type SQLConfig struct {
	DriverName      string
	DataSourceName  string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// sqlDialect 不同数据库的建表语句与查询语句
type sqlDialect struct {
	createRangesTable       string
	createAvailabilityTable string
	insertRange             string
	deleteRange             string
	deleteAllRanges         string
	countRange              string
	selectRanges            string
	countRanges             string
	insertAvailability      string
	selectAvailability      string
}

var mysqlDialect = sqlDialect{
	createRangesTable: `
		CREATE TABLE IF NOT EXISTS net_ranges (
			cidr VARCHAR(50) PRIMARY KEY,
			family TINYINT NOT NULL,
			prefix_len SMALLINT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB;`,
	createAvailabilityTable: `
		CREATE TABLE IF NOT EXISTS net_availability (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			available BOOLEAN NOT NULL,
			changed_at TIMESTAMP(6) NOT NULL
		) ENGINE=InnoDB;`,
	insertRange:        "INSERT INTO net_ranges (cidr, family, prefix_len) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE cidr = cidr",
	deleteRange:        "DELETE FROM net_ranges WHERE cidr = ?",
	deleteAllRanges:    "DELETE FROM net_ranges",
	countRange:         "SELECT COUNT(*) FROM net_ranges WHERE cidr = ?",
	selectRanges:       "SELECT cidr FROM net_ranges ORDER BY family, cidr",
	countRanges:        "SELECT COUNT(*) FROM net_ranges",
	insertAvailability: "INSERT INTO net_availability (available, changed_at) VALUES (?, ?)",
	selectAvailability: "SELECT available, changed_at FROM net_availability ORDER BY id DESC LIMIT ?",
}

var postgresDialect = sqlDialect{
	createRangesTable: `
		CREATE TABLE IF NOT EXISTS net_ranges (
			cidr VARCHAR(50) PRIMARY KEY,
			family SMALLINT NOT NULL,
			prefix_len SMALLINT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);`,
	createAvailabilityTable: `
		CREATE TABLE IF NOT EXISTS net_availability (
			id BIGSERIAL PRIMARY KEY,
			available BOOLEAN NOT NULL,
			changed_at TIMESTAMPTZ NOT NULL
		);`,
	insertRange:        "INSERT INTO net_ranges (cidr, family, prefix_len) VALUES ($1, $2, $3) ON CONFLICT (cidr) DO NOTHING",
	deleteRange:        "DELETE FROM net_ranges WHERE cidr = $1",
	deleteAllRanges:    "DELETE FROM net_ranges",
	countRange:         "SELECT COUNT(*) FROM net_ranges WHERE cidr = $1",
	selectRanges:       "SELECT cidr FROM net_ranges ORDER BY family, cidr",
	countRanges:        "SELECT COUNT(*) FROM net_ranges",
	insertAvailability: "INSERT INTO net_availability (available, changed_at) VALUES ($1, $2)",
	selectAvailability: "SELECT available, changed_at FROM net_availability ORDER BY id DESC LIMIT $1",
}

func dialectFor(driverName string) (*sqlDialect, error) {
	switch driverName {
	case "mysql":
		return &mysqlDialect, nil
	case "postgres":
		return &postgresDialect, nil
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s (支持: mysql, postgres)", driverName)
	}
}

// NewSQLRangeStorage 创建一个新的 SQL 地址段存储
func NewSQLRangeStorage(ctx context.Context, config SQLConfig) (*SQLRangeStorage, error) {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 验证驱动名称
	dialect, err := dialectFor(config.DriverName)
	if err != nil {
		return nil, err
	}

	// 连接数据库
	db, err := sql.Open(config.DriverName, config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 设置连接池参数
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	// 检查连接是否有效
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	storage := &SQLRangeStorage{
		db:         db,
		driverName: config.DriverName,
		dialect:    dialect,
	}

	// 初始化必要的表
	if err := storage.initTables(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initTables 创建必要的数据库表
func (s *SQLRangeStorage) initTables(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.createRangesTable); err != nil {
		return fmt.Errorf("创建 net_ranges 表失败: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.createAvailabilityTable); err != nil {
		return fmt.Errorf("创建 net_availability 表失败: %w", err)
	}

	return nil
}

// Close 关闭数据库连接
func (s *SQLRangeStorage) Close() error {
	return s.db.Close()
}

// SaveRange 实现 RangeStorage 接口
func (s *SQLRangeStorage) SaveRange(ctx context.Context, r AddressRange) error {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return err
	}

	if !r.IsValid() {
		return fmt.Errorf("保存地址段失败: %w", ErrInvalidRange)
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.insertRange, r.String(), int(r.Family()), r.Bits()); err != nil {
		return fmt.Errorf("保存地址段 %s 失败: %w", r, err)
	}

	return nil
}

// DeleteRange 实现 RangeStorage 接口
func (s *SQLRangeStorage) DeleteRange(ctx context.Context, r AddressRange) error {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.deleteRange, r.String()); err != nil {
		return fmt.Errorf("删除地址段 %s 失败: %w", r, err)
	}

	return nil
}

// ReplaceRanges 在一个事务中用给定的地址段替换全部已保存的地址段
func (s *SQLRangeStorage) ReplaceRanges(ctx context.Context, ranges []AddressRange) error {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return err
	}

	// 开始事务
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.deleteAllRanges); err != nil {
		return fmt.Errorf("清空地址段失败: %w", err)
	}

	for _, r := range ranges {
		if !r.IsValid() {
			return fmt.Errorf("保存地址段失败: %w", ErrInvalidRange)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.insertRange, r.String(), int(r.Family()), r.Bits()); err != nil {
			return fmt.Errorf("保存地址段 %s 失败: %w", r, err)
		}
	}

	// 提交事务
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	return nil
}

// HasRange 实现 RangeStorage 接口
func (s *SQLRangeStorage) HasRange(ctx context.Context, r AddressRange) (bool, error) {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, s.dialect.countRange, r.String()).Scan(&count); err != nil {
		return false, fmt.Errorf("检查地址段是否存在失败: %w", err)
	}

	return count > 0, nil
}

// LoadRanges 实现 RangeStorage 接口
func (s *SQLRangeStorage) LoadRanges(ctx context.Context) ([]AddressRange, error) {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.selectRanges)
	if err != nil {
		return nil, fmt.Errorf("获取地址段列表失败: %w", err)
	}
	defer rows.Close()

	var ranges []AddressRange
	for rows.Next() {
		var cidr string
		if err := rows.Scan(&cidr); err != nil {
			return nil, fmt.Errorf("读取地址段失败: %w", err)
		}
		r, err := ParseRange(cidr)
		if err != nil {
			return nil, fmt.Errorf("数据库中的地址段 %q 无效: %w", cidr, err)
		}
		ranges = append(ranges, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代结果集失败: %w", err)
	}

	sortRanges(ranges)
	return ranges, nil
}

// RangeCount 实现 RangeStorage 接口
func (s *SQLRangeStorage) RangeCount(ctx context.Context) (int, error) {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, s.dialect.countRanges).Scan(&count); err != nil {
		return 0, fmt.Errorf("获取地址段数量失败: %w", err)
	}

	return count, nil
}

// RecordAvailability 实现 RangeStorage 接口
func (s *SQLRangeStorage) RecordAvailability(ctx context.Context, available bool, at time.Time) error {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.insertAvailability, available, at.UTC()); err != nil {
		return fmt.Errorf("记录可用性变化失败: %w", err)
	}

	return nil
}

// AvailabilityHistory 实现 RangeStorage 接口
func (s *SQLRangeStorage) AvailabilityHistory(ctx context.Context, limit int) ([]AvailabilityRecord, error) {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM net_availability").Scan(&count); err != nil {
			return nil, fmt.Errorf("获取可用性记录数量失败: %w", err)
		}
		limit = count
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.selectAvailability, limit)
	if err != nil {
		return nil, fmt.Errorf("获取可用性记录失败: %w", err)
	}
	defer rows.Close()

	var records []AvailabilityRecord
	for rows.Next() {
		var rec AvailabilityRecord
		if err := rows.Scan(&rec.Available, &rec.ChangedAt); err != nil {
			return nil, fmt.Errorf("读取可用性记录失败: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代结果集失败: %w", err)
	}

	return records, nil
}
