package archive

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
)

// Record is one archived event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Seq        uint64    `gorm:"uniqueIndex;not null" json:"seq"`
	Type       string    `gorm:"index;not null" json:"type"`
	Attributes string    `gorm:"not null" json:"-"`
	Digest     string    `gorm:"size:64;not null" json:"digest"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName pins the table name across drivers.
func (Record) TableName() string { return "market_events" }

// Event decodes the stored attributes back into the payload form.
func (r Record) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("archive: decode record %d: %w", r.Seq, err)
		}
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}

// MarshalJSON flattens the attributes into the JSON form served over HTTP.
func (r Record) MarshalJSON() ([]byte, error) {
	evt, err := r.Event()
	if err != nil {
		return nil, err
	}
	type alias Record
	return json.Marshal(struct {
		alias
		Attributes map[string]string `json:"attributes"`
	}{alias: alias(r), Attributes: evt.Attributes})
}

var ErrDigestMismatch = errors.New("archive: digest mismatch")

// Archive persists emitted events through gorm and fans new records out to
// live subscribers. It implements events.Emitter.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	seq         uint64
	subscribers map[int]chan Record
	nextSub     int
}

// Open connects to the configured backend and migrates the schema. Supported
// drivers are "sqlite" and "postgres".
func Open(driver, dsn string) (*Archive, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if err := ensureDir(dsn); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("archive: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection.
func New(db *gorm.DB) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("archive: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	var last Record
	res := db.Order("seq desc").Limit(1).Find(&last)
	if res.Error != nil {
		return nil, fmt.Errorf("archive: load sequence: %w", res.Error)
	}
	return &Archive{
		db:          db,
		logger:      slog.Default(),
		now:         time.Now,
		seq:         last.Seq,
		subscribers: make(map[int]chan Record),
	}, nil
}

// SetLogger replaces the logger used to report failed writes.
func (a *Archive) SetLogger(logger *slog.Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// Emit implements events.Emitter. Write failures are logged because emitters
// cannot return errors.
func (a *Archive) Emit(evt events.Event) {
	if a == nil || evt == nil {
		return
	}
	payload := &types.Event{Type: evt.EventType()}
	if p, ok := evt.(events.Payload); ok {
		if flat := p.Event(); flat != nil {
			payload = flat
		}
	}
	if _, err := a.Append(context.Background(), payload); err != nil {
		a.logger.Error("archive event", slog.String("type", payload.Type), slog.Any("error", err))
	}
}

// Append stores evt and returns the written record.
func (a *Archive) Append(ctx context.Context, evt *types.Event) (Record, error) {
	if evt == nil || evt.Type == "" {
		return Record{}, fmt.Errorf("archive: event type required")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return Record{}, fmt.Errorf("archive: encode attributes: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	rec := Record{
		ID:         uuid.New(),
		Seq:        a.seq + 1,
		Type:       evt.Type,
		Attributes: string(encoded),
		CreatedAt:  a.now().UTC(),
	}
	rec.Digest = digest(rec.Type, rec.Attributes)
	if err := a.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return Record{}, fmt.Errorf("archive: insert: %w", err)
	}
	a.seq = rec.Seq
	for _, ch := range a.subscribers {
		select {
		case ch <- rec:
		default:
			// Slow subscribers miss live records and can page them back in.
		}
	}
	return rec, nil
}

// List returns up to limit records with a sequence greater than after,
// optionally restricted to one event type.
func (a *Archive) List(ctx context.Context, after uint64, limit int, eventType string) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := a.db.WithContext(ctx).Where("seq > ?", after)
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var records []Record
	if err := query.Order("seq asc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	return records, nil
}

// Count returns the number of archived events.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.WithContext(ctx).Model(&Record{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("archive: count: %w", err)
	}
	return n, nil
}

// Verify recomputes every digest and reports the first tampered record.
func (a *Archive) Verify(ctx context.Context) error {
	var after uint64
	for {
		batch, err := a.List(ctx, after, 500, "")
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, rec := range batch {
			if digest(rec.Type, rec.Attributes) != rec.Digest {
				return fmt.Errorf("%w: record %d (%s)", ErrDigestMismatch, rec.Seq, rec.ID)
			}
			after = rec.Seq
		}
	}
}

// Subscribe registers a live feed of newly appended records. The returned
// function unregisters it and closes the channel.
func (a *Archive) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Record, buffer)
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subscribers[id] = ch
	a.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subscribers, id)
			a.mu.Unlock()
			close(ch)
		})
	}
}

// Close releases the underlying connection.
func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ensureDir creates the parent directory of a plain sqlite file path.
func ensureDir(dsn string) error {
	if strings.HasPrefix(dsn, "file:") || strings.HasPrefix(dsn, ":memory:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("archive: create %s: %w", dir, err)
	}
	return nil
}

func digest(eventType, attributes string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(attributes))
	return hex.EncodeToString(h.Sum(nil))
}
