package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/currency-check/internal/imageprocessor"
	"github.com/example/currency-check/internal/interpreter"
	"github.com/example/currency-check/internal/logging"
	"github.com/example/currency-check/internal/oracle"
	"github.com/example/currency-check/internal/repository"
)

// Errors surfaced to the HTTP layer.
var (
	ErrOracleNotConfigured = oracle.ErrNotConfigured
	ErrNotFound            = repository.ErrNotFound
)

const (
	defaultOracleTimeout = 60 * time.Second
	defaultCacheTTL      = 5 * time.Minute
)

// HistoryRepository defines the persistence operations needed by the use case.
type HistoryRepository interface {
	Save(ctx context.Context, entry *repository.HistoryEntry) error
	ListByUser(ctx context.Context, username string) ([]*repository.HistoryEntry, error)
	FindByIDAndUser(ctx context.Context, id uint, username string) (*repository.HistoryEntry, error)
	Stats(ctx context.Context, username string) (*repository.HistoryStats, error)
}

// Options tunes the detection flow.
type Options struct {
	MaxImageDimension int
	MaxImagePixels    int64
	OracleTimeout     time.Duration
	CacheTTL          time.Duration
}

// DetectionUseCase runs an upload through image preparation, the oracle and
// the interpreter, and keeps the per-user history.
type DetectionUseCase struct {
	repo          HistoryRepository
	cache         Cache
	oracle        oracle.Client
	logger        *zap.Logger
	imageOpts     imageprocessor.Options
	oracleTimeout time.Duration
	cacheTTL      time.Duration
	now           func() time.Time
}

// Detection is the outcome of one Predict call.
type Detection struct {
	HistoryID   uint
	Label       string
	Confidence  int
	Explanation string
}

// NewDetectionUseCase constructs a new use case instance. A nil client leaves
// Predict failing with ErrOracleNotConfigured while history stays readable.
func NewDetectionUseCase(repo HistoryRepository, cache Cache, client oracle.Client, logger *zap.Logger, opts Options) *DetectionUseCase {
	if cache == nil {
		cache = NopCache{}
	}
	if opts.OracleTimeout <= 0 {
		opts.OracleTimeout = defaultOracleTimeout
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	return &DetectionUseCase{
		repo:          repo,
		cache:         cache,
		oracle:        client,
		logger:        logger.Named("detection_usecase"),
		imageOpts:     imageprocessor.Options{MaxDimension: opts.MaxImageDimension, MaxPixels: opts.MaxImagePixels},
		oracleTimeout: opts.OracleTimeout,
		cacheTTL:      opts.CacheTTL,
		now:           time.Now,
	}
}

// OracleConfigured reports whether Predict can reach the oracle.
func (uc *DetectionUseCase) OracleConfigured() bool {
	return uc.oracle != nil
}

// Predict classifies upload for username and records it in the history.
func (uc *DetectionUseCase) Predict(ctx context.Context, username string, upload []byte) (*Detection, error) {
	requestID := logging.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID).With(zap.String("username", username))

	if uc.oracle == nil {
		return nil, logging.NewOperationError("usecase.predict", requestID, ErrOracleNotConfigured)
	}

	img, err := imageprocessor.Prepare(upload, uc.imageOpts)
	if err != nil {
		opLogger.Warn("image preparation failed", zap.Error(err))
		return nil, logging.NewOperationError("usecase.prepare_image", requestID, err)
	}

	oracleCtx, cancel := context.WithTimeout(ctx, uc.oracleTimeout)
	defer cancel()
	started := uc.now()
	text, err := uc.oracle.Analyze(oracleCtx, img.Data, img.MIMEType)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.oracle_analyze", requestID, err)
		opLogger.Error("oracle call failed", zap.Error(wrapped))
		return nil, wrapped
	}
	opLogger.Debug("oracle answered", zap.Duration("latency", uc.now().Sub(started)))

	verdict := interpreter.Interpret(text)

	hash := sha1.Sum(upload)
	entry := &repository.HistoryEntry{
		Username:    username,
		ImageData:   base64.StdEncoding.EncodeToString(img.Data),
		ImageSHA1:   hex.EncodeToString(hash[:]),
		Result:      verdict.Label,
		Confidence:  verdict.Confidence,
		Explanation: verdict.Explanation,
		Timestamp:   uc.now().UTC(),
	}
	if err := uc.repo.Save(ctx, entry); err != nil {
		wrapped := logging.NewOperationError("usecase.save_history", requestID, err)
		opLogger.Error("failed to persist history entry", zap.Error(wrapped))
		return nil, wrapped
	}
	uc.cacheEntry(ctx, requestID, entry)

	opLogger.Info("prediction recorded",
		zap.Uint("history_id", entry.ID),
		zap.String("label", verdict.Label),
		zap.Int("confidence", verdict.Confidence))

	return &Detection{
		HistoryID:   entry.ID,
		Label:       verdict.Label,
		Confidence:  verdict.Confidence,
		Explanation: verdict.Explanation,
	}, nil
}

// History returns every entry of username, newest first.
func (uc *DetectionUseCase) History(ctx context.Context, username string) ([]*repository.HistoryEntry, error) {
	entries, err := uc.repo.ListByUser(ctx, username)
	if err != nil {
		return nil, logging.NewOperationError("usecase.history", logging.RequestIDFromContext(ctx), err)
	}
	return entries, nil
}

// Entry returns one entry owned by username, reading through the cache.
// Entries of other users are reported as ErrNotFound.
func (uc *DetectionUseCase) Entry(ctx context.Context, username string, id uint) (*repository.HistoryEntry, error) {
	key := cacheKey(id)
	cached, err := uc.cache.Get(ctx, key)
	switch {
	case err == nil:
		var entry repository.HistoryEntry
		if err := json.Unmarshal([]byte(cached), &entry); err != nil {
			logging.WithOperation(uc.logger, "usecase.entry", logging.RequestIDFromContext(ctx)).Warn("failed to decode cached entry", zap.Error(err))
		} else if entry.Username == username {
			return &entry, nil
		}
	case !errors.Is(err, redis.Nil):
		logging.WithOperation(uc.logger, "usecase.entry", logging.RequestIDFromContext(ctx)).Warn("failed to read cache", zap.Error(err))
	}

	entry, err := uc.repo.FindByIDAndUser(ctx, id, username)
	if err != nil {
		return nil, err
	}
	uc.cacheEntry(ctx, logging.RequestIDFromContext(ctx), entry)
	return entry, nil
}

func (uc *DetectionUseCase) cacheEntry(ctx context.Context, requestID string, entry *repository.HistoryEntry) {
	serialized, err := json.Marshal(entry)
	if err != nil {
		logging.WithOperation(uc.logger, "cache.set.entry", requestID).Warn("failed to serialize entry", zap.Error(err))
		return
	}
	if err := uc.cache.Set(ctx, cacheKey(entry.ID), string(serialized), uc.cacheTTL); err != nil {
		logging.WithOperation(uc.logger, "cache.set.entry", requestID).Warn("failed to cache entry", zap.Error(err))
	}
}

func cacheKey(id uint) string {
	return fmt.Sprintf("history:%d", id)
}
