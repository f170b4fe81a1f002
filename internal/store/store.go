package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const catalogKey = "catalog"

var ErrNoAttributeDetails = errors.New("attribute_details is empty")

type Options struct {
	Path     string
	Logger   *slog.Logger
	CacheTTL time.Duration
	Debug    bool
}

type Store struct {
	db     *gorm.DB
	path   string
	logger *slog.Logger
	cache  *cache.Cache
}

// Open connects to the SQLite file at opts.Path with foreign keys enforced.
func Open(opts Options) (*Store, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	logMode := gormlogger.Silent
	if opts.Debug {
		logMode = gormlogger.Info
	}

	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(logMode),
	})
	if err != nil {
		logger.Error("db open failed", "event", "db_connection_failed", "db_path", path, "error", err)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &Store{
		db:     db,
		path:   path,
		logger: logger,
		cache:  cache.New(ttl, 2*ttl),
	}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS attribute_types (
		id INTEGER PRIMARY KEY,
		attribute_name TEXT,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS attribute_details (
		id INTEGER PRIMARY KEY,
		attribute_type_id INTEGER,
		description TEXT,
		value TEXT,
		FOREIGN KEY (attribute_type_id) REFERENCES attribute_types (id)
	)`,
	`CREATE TABLE IF NOT EXISTS prompts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS prompt_attribute_details (
		prompt_id INTEGER,
		attribute_detail_id INTEGER,
		FOREIGN KEY (prompt_id) REFERENCES prompts (id),
		FOREIGN KEY (attribute_detail_id) REFERENCES attribute_details (id)
	)`,
}

// CreateSchema creates any missing table. Existing tables are left alone.
func (s *Store) CreateSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Catalog returns every attribute type and detail with the number of
// prompts linked to each detail.
func (s *Store) Catalog(ctx context.Context) (Catalog, error) {
	if cached, ok := s.cache.Get(catalogKey); ok {
		return cached.(Catalog), nil
	}

	var c Catalog
	db := s.db.WithContext(ctx)
	if err := db.Raw("SELECT id, attribute_name, description FROM attribute_types ORDER BY id").Scan(&c.Types).Error; err != nil {
		return Catalog{}, s.dbError("Catalog", err)
	}
	err := db.Raw(`
		SELECT ad.id, ad.attribute_type_id, ad.description, ad.value, COUNT(DISTINCT pad.prompt_id) AS content_count
		FROM attribute_details ad
		LEFT JOIN prompt_attribute_details pad ON ad.id = pad.attribute_detail_id
		GROUP BY ad.id
		ORDER BY ad.id`).Scan(&c.Details).Error
	if err != nil {
		return Catalog{}, s.dbError("Catalog", err)
	}

	s.logger.Info("attribute data loaded",
		"event", "db_attribute_load_success",
		"attribute_type_count", len(c.Types),
		"attribute_detail_count", len(c.Details),
	)
	s.cache.SetDefault(catalogKey, c)
	return c, nil
}

// InvalidateCatalog drops the cached catalog so the next call hits the DB.
func (s *Store) InvalidateCatalog() {
	s.cache.Delete(catalogKey)
}

// PromptsForDetail returns the prompts linked to detailID whose content
// contains none of the exclusion words.
func (s *Store) PromptsForDetail(ctx context.Context, detailID int64, exclusions []string) ([]Prompt, error) {
	q := s.db.WithContext(ctx).
		Table("prompts p").
		Select("p.id, p.content").
		Joins("JOIN prompt_attribute_details pad ON p.id = pad.prompt_id").
		Where("pad.attribute_detail_id = ?", detailID)
	q = excludeWords(q, "p.content", exclusions)

	var out []Prompt
	if err := q.Order("p.id").Scan(&out).Error; err != nil {
		return nil, s.dbError("PromptsForDetail", err)
	}
	return out, nil
}

func (s *Store) AllPrompts(ctx context.Context, exclusions []string) ([]Prompt, error) {
	q := s.db.WithContext(ctx).Table("prompts").Select("id, content")
	q = excludeWords(q, "content", exclusions)

	var out []Prompt
	if err := q.Order("id").Scan(&out).Error; err != nil {
		return nil, s.dbError("AllPrompts", err)
	}
	return out, nil
}

// SampleRows builds up to three example import lines from the first five
// attribute details.
func (s *Store) SampleRows(ctx context.Context) ([]string, error) {
	var details []AttributeDetail
	err := s.db.WithContext(ctx).
		Raw("SELECT id, description FROM attribute_details ORDER BY id LIMIT 5").
		Scan(&details).Error
	if err != nil {
		s.logger.Error("sample rows fetch failed", "event", "sample_csv_fetch_failed", "db_path", s.path, "error", err)
		return nil, fmt.Errorf("sample rows: %w", err)
	}
	if len(details) == 0 {
		return nil, ErrNoAttributeDetails
	}

	ids := make([]string, len(details))
	labels := make([]string, len(details))
	for i, d := range details {
		ids[i] = fmt.Sprint(d.ID)
		labels[i] = strings.ReplaceAll(d.Description, `"`, "'")
		if labels[i] == "" {
			labels[i] = "attribute"
		}
	}

	lines := []string{fmt.Sprintf(`"%s / vivid detail","%s"`, labels[0], ids[0])}
	if len(ids) >= 2 {
		lines = append(lines, fmt.Sprintf(`"Layered mix: %s + %s","%s,%s"`, labels[0], labels[1], ids[0], ids[1]))
	}
	if len(ids) >= 3 {
		lines = append(lines, fmt.Sprintf(`"Cinematic trio featuring %s / %s / %s","%s,%s,%s"`,
			labels[0], labels[1], labels[2], ids[0], ids[1], ids[2]))
	}
	s.logger.Info("sample rows built", "event", "sample_csv_inserted", "attribute_ids", ids[:min(3, len(ids))])
	return lines, nil
}

func excludeWords(q *gorm.DB, column string, words []string) *gorm.DB {
	for _, w := range words {
		if w = strings.TrimSpace(w); w == "" {
			continue
		}
		q = q.Where(column+" NOT LIKE ?", "%"+w+"%")
	}
	return q
}

func (s *Store) dbError(caller string, err error) error {
	s.logger.Error("db query failed", "event", "db_connection_failed", "db_path", s.path, "caller", caller, "error", err)
	return fmt.Errorf("%s: %w", caller, err)
}
