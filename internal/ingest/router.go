package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/botdesk/internal/metrics"
	"github.com/MarcoPoloResearchLab/botdesk/internal/store"
	"go.uber.org/zap"
)

var errMissingStore = errors.New("ingest: event store is required")

// ErrMissingIdentity marks a batch entry skipped because no identity key resolved.
var ErrMissingIdentity = errors.New("ingest: entry has no resolvable identity")

// Store is the subset of the event store the router writes to.
type Store interface {
	UpsertUser(ctx context.Context, input store.UserUpsert) (bool, error)
	ImportUser(ctx context.Context, input store.UserUpsert) (bool, error)
	AppendMessage(ctx context.Context, input store.MessageAppend) (store.BotMessage, error)
	ImportMessage(ctx context.Context, input store.MessageAppend) (store.BotMessage, error)
	AppendCommand(ctx context.Context, input store.CommandAppend) (store.BotCommandLogEntry, error)
}

// EntryStatus is the outcome of one batch entry.
type EntryStatus string

const (
	EntryImported EntryStatus = "imported"
	EntrySkipped  EntryStatus = "skipped"
	EntryFailed   EntryStatus = "failed"
)

// EntryResult records what happened to one batch entry. Err explains a skipped or
// failed entry; Warning names fields of an imported entry that were defaulted.
type EntryResult struct {
	Index      int
	TelegramID int64
	Status     EntryStatus
	Created    bool
	Err        error
	Warning    error
}

// Result describes the effect of one ingested event.
type Result struct {
	Type     EventType
	Created  bool
	Imported int
	Entries  []EntryResult
	Time     time.Time
}

// RouterConfig describes the dependencies of the ingestion router.
type RouterConfig struct {
	Store  Store
	Clock  func() time.Time
	Logger *zap.Logger
}

// Router applies decoded events to the event store.
type Router struct {
	store  Store
	clock  func() time.Time
	logger *zap.Logger
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{store: cfg.Store, clock: clock, logger: logger}, nil
}

// Ingest applies one event. Batch imports are best effort: entries are processed in
// order and a failing entry never aborts the rest of the batch.
func (r *Router) Ingest(ctx context.Context, event Event) (Result, error) {
	if event == nil {
		return Result{}, fmt.Errorf("%w: empty envelope", ErrInvalidEvent)
	}
	result, err := r.dispatch(ctx, event)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(err, ErrUnknownEventType) {
			outcome = "rejected"
		}
	}
	metrics.ObserveIngest(string(event.Type()), outcome)
	return result, err
}

func (r *Router) dispatch(ctx context.Context, event Event) (Result, error) {
	switch typed := event.(type) {
	case UserEvent:
		created, err := r.store.UpsertUser(ctx, store.UserUpsert{
			TelegramID: typed.TelegramID,
			Username:   typed.Username,
			FirstName:  typed.FirstName,
			LastName:   typed.LastName,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Type: EventTypeUser, Created: created}, nil
	case MessageEvent:
		if _, err := r.store.AppendMessage(ctx, store.MessageAppend{
			TelegramID: typed.TelegramID,
			Direction:  typed.Direction,
			Text:       typed.Text,
		}); err != nil {
			return Result{}, err
		}
		return Result{Type: EventTypeMessage}, nil
	case CommandEvent:
		if _, err := r.store.AppendCommand(ctx, store.CommandAppend{
			TelegramID: typed.TelegramID,
			Command:    typed.Command,
		}); err != nil {
			return Result{}, err
		}
		return Result{Type: EventTypeCommand}, nil
	case ImportUsersEvent:
		return r.importUsers(ctx, typed), nil
	case ImportMessagesEvent:
		return r.importMessages(ctx, typed), nil
	case PingEvent:
		return Result{Type: EventTypePing, Time: r.clock().UTC()}, nil
	case UnknownEvent:
		return Result{}, &UnknownTypeError{Type: typed.Name}
	default:
		return Result{}, &UnknownTypeError{Type: string(event.Type())}
	}
}

func (r *Router) importUsers(ctx context.Context, event ImportUsersEvent) Result {
	result := Result{Type: EventTypeImportUsers, Entries: make([]EntryResult, 0, len(event.Entries))}
	for index, entry := range event.Entries {
		entryResult := EntryResult{Index: index, TelegramID: entry.TelegramID, Warning: entry.Warning}
		switch {
		case entry.TelegramID == 0:
			entryResult.Status = EntrySkipped
			entryResult.Err = ErrMissingIdentity
		default:
			created, err := r.store.ImportUser(ctx, store.UserUpsert{
				TelegramID: entry.TelegramID,
				Username:   entry.Username,
				FirstName:  entry.FirstName,
				LastName:   entry.LastName,
				Blocked:    entry.Blocked,
				JoinedAt:   entry.JoinedAt,
			})
			if err != nil {
				entryResult.Status = EntryFailed
				entryResult.Err = err
			} else {
				entryResult.Status = EntryImported
				entryResult.Created = created
				result.Imported++
			}
		}
		result.Entries = append(result.Entries, entryResult)
	}
	r.logBatch(result)
	return result
}

func (r *Router) importMessages(ctx context.Context, event ImportMessagesEvent) Result {
	result := Result{Type: EventTypeImportMessages, Entries: make([]EntryResult, 0, len(event.Entries))}
	for index, entry := range event.Entries {
		entryResult := EntryResult{Index: index, TelegramID: entry.TelegramID, Warning: entry.Warning}
		switch {
		case entry.TelegramID == 0:
			entryResult.Status = EntrySkipped
			entryResult.Err = ErrMissingIdentity
		default:
			if _, err := r.store.ImportMessage(ctx, store.MessageAppend{
				TelegramID: entry.TelegramID,
				Direction:  entry.Direction,
				Text:       entry.Text,
				CreatedAt:  entry.CreatedAt,
			}); err != nil {
				entryResult.Status = EntryFailed
				entryResult.Err = err
			} else {
				entryResult.Status = EntryImported
				result.Imported++
			}
		}
		result.Entries = append(result.Entries, entryResult)
	}
	r.logBatch(result)
	return result
}

func (r *Router) logBatch(result Result) {
	skipped, failed, defaulted := 0, 0, 0
	for _, entry := range result.Entries {
		if entry.Warning != nil {
			defaulted++
			r.logger.Debug("import entry defaulted unreadable fields",
				zap.String("type", string(result.Type)),
				zap.Int("index", entry.Index),
				zap.Int64("telegram_id", entry.TelegramID),
				zap.Error(entry.Warning))
		}
		switch entry.Status {
		case EntrySkipped:
			skipped++
		case EntryFailed:
			failed++
			r.logger.Debug("import entry failed",
				zap.String("type", string(result.Type)),
				zap.Int("index", entry.Index),
				zap.Int64("telegram_id", entry.TelegramID),
				zap.Error(entry.Err))
		}
	}
	fields := []zap.Field{
		zap.String("type", string(result.Type)),
		zap.Int("total", len(result.Entries)),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
		zap.Int("defaulted", defaulted),
	}
	if failed > 0 {
		r.logger.Warn("import batch finished with failures", fields...)
		return
	}
	r.logger.Info("import batch finished", fields...)
}
