// Package output carries committed sales and readings out of the
// process: an append-only transaction log on disk and optional NATS
// publishing for the POS feed.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"scalebridge/store"
)

// TransactionRecord is one line in the transaction log. Flat and
// self-contained so the file is useful without the database.
type TransactionRecord struct {
	Timestamp   time.Time `json:"ts"`
	SaleID      string    `json:"sale_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	WeightKg    float64   `json:"weight_kg"`
	UnitPrice   string    `json:"unit_price"`
	Total       string    `json:"total"`
	Note        string    `json:"note,omitempty"`
}

// TransactionLog writes sale records as JSON lines to a rotating file.
// The log is the audit trail; the database is the query surface.
type TransactionLog struct {
	path   string
	writer *lumberjack.Logger
	logger *slog.Logger
	mu     sync.Mutex
}

// TransactionLogConfig contains configuration for TransactionLog.
type TransactionLogConfig struct {
	BasePath   string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
	Logger     *slog.Logger
}

// NewTransactionLog creates a TransactionLog under cfg.BasePath.
func NewTransactionLog(cfg *TransactionLogConfig) *TransactionLog {
	path := filepath.Join(cfg.BasePath, "transactions.log")

	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}

	cfg.Logger.Info("Initialized transaction log", "path", path)

	return &TransactionLog{
		path:   path,
		writer: writer,
		logger: cfg.Logger,
	}
}

// AppendSale writes one committed sale to the log.
func (t *TransactionLog) AppendSale(rec store.SaleRecord, productName string) error {
	return t.append(TransactionRecord{
		Timestamp:   rec.CreatedAt,
		SaleID:      rec.ID,
		ProductID:   rec.ProductID,
		ProductName: productName,
		WeightKg:    rec.Weight,
		UnitPrice:   rec.UnitPrice.String(),
		Total:       rec.Total.String(),
		Note:        rec.Note,
	})
}

func (t *TransactionLog) append(rec TransactionRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction record: %w", err)
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.writer.Write(data); err != nil {
		t.logger.Error("Failed to write transaction record",
			"sale_id", rec.SaleID, "error", err)
		return err
	}
	return nil
}

// Recent returns up to n records from the end of the current log file,
// newest first. Rotated files are not consulted; the store holds the
// full history. Malformed lines are skipped.
func (t *TransactionLog) Recent(n int) ([]TransactionRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction log: %w", err)
	}

	lines := bytes.Split(bytes.TrimSpace(data), []byte{'\n'})
	records := make([]TransactionRecord, 0, n)
	for i := len(lines) - 1; i >= 0 && len(records) < n; i-- {
		var rec TransactionRecord
		if err := json.Unmarshal(lines[i], &rec); err != nil {
			t.logger.Debug("Skipped malformed transaction line", "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close closes the underlying log writer.
func (t *TransactionLog) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writer.Close()
}
