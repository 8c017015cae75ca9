package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/flota-erp/flota-erp/internal/platform/money"
	"github.com/flota-erp/flota-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransfer(ctx context.Context, id int64) (Transfer, error)
	GetMovement(ctx context.Context, id int64) (Movement, error)
	DepositExists(ctx context.Context, id int64) (bool, error)
	ListStock(ctx context.Context, depositID int64) ([]StockItem, error)
	GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives stock mutation counters.
type MetricsPort interface {
	ObserveStockConfirmation(kind string, lines int)
}

// Service coordinates inventory operations.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	logger  *slog.Logger
	metrics MetricsPort
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// SetMetrics injects the metrics sink.
func (s *Service) SetMetrics(m MetricsPort) {
	s.metrics = m
}

// CreateTransfer opens a pending transfer between two deposits.
func (s *Service) CreateTransfer(ctx context.Context, input CreateTransferInput) (Transfer, error) {
	if input.OriginDepositID <= 0 || input.DestinationDepositID <= 0 {
		return Transfer{}, ErrDepositNotFound
	}
	if input.OriginDepositID == input.DestinationDepositID {
		return Transfer{}, ErrSameDeposit
	}
	for _, id := range []int64{input.OriginDepositID, input.DestinationDepositID} {
		ok, err := s.repo.DepositExists(ctx, id)
		if err != nil {
			return Transfer{}, fmt.Errorf("inventory: deposit lookup: %w", err)
		}
		if !ok {
			return Transfer{}, fmt.Errorf("%w: %d", ErrDepositNotFound, id)
		}
	}
	transfer := Transfer{
		OriginDepositID:      input.OriginDepositID,
		DestinationDepositID: input.DestinationDepositID,
		Status:               TransferPending,
		UserID:               input.ActorID,
		CreatedAt:            s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateTransfer(ctx, transfer)
		if err != nil {
			return err
		}
		transfer.ID = id
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.record(ctx, shared.NewAuditLog(input.ActorID, "transferencia:crear", shared.EntityTransfer, transfer.ID, map[string]any{
		"origen":  input.OriginDepositID,
		"destino": input.DestinationDepositID,
	}))
	return transfer, nil
}

// AddTransferLine appends a stock item of the origin deposit to a pending transfer.
func (s *Service) AddTransferLine(ctx context.Context, input LineInput) (TransferLine, error) {
	if input.Qty <= 0 {
		return TransferLine{}, ErrInvalidQuantity
	}
	var line TransferLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.GetTransferForUpdate(ctx, input.ParentID)
		if err != nil {
			return err
		}
		if transfer.Status != TransferPending {
			return ErrTransferConfirmed
		}
		item, err := tx.GetStockItem(ctx, input.StockItemID)
		if err != nil {
			return err
		}
		if item.DepositID != transfer.OriginDepositID {
			return fmt.Errorf("%w de origen", ErrItemNotInDeposit)
		}
		line = TransferLine{TransferID: transfer.ID, StockItemID: item.ID, Qty: input.Qty}
		id, err := tx.InsertTransferLine(ctx, line)
		if err != nil {
			return err
		}
		line.ID = id
		return nil
	})
	if err != nil {
		return TransferLine{}, err
	}
	return line, nil
}

// RemoveTransferLine deletes a line from a pending transfer.
func (s *Service) RemoveTransferLine(ctx context.Context, transferID, lineID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if transfer.Status != TransferPending {
			return ErrTransferConfirmed
		}
		deleted, err := tx.DeleteTransferLine(ctx, transferID, lineID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrLineNotFound
		}
		return nil
	})
}

// ConfirmTransfer moves the stock of every line from origin to destination.
// Sufficiency is checked here, against the summed quantity per stock item.
func (s *Service) ConfirmTransfer(ctx context.Context, transferID, actorID int64) (Transfer, error) {
	var confirmed Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		transfer, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if transfer.Status != TransferPending {
			return ErrTransferConfirmed
		}
		lines, err := tx.ListTransferLines(ctx, transferID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrTransferWithoutLines
		}
		origins, err := s.lockForOutflow(ctx, tx, transfer.OriginDepositID, aggregateTransfer(lines))
		if err != nil {
			return err
		}
		now := s.now()
		for _, out := range origins {
			if _, err := s.apply(ctx, tx, out.item, -out.qty, RefTransfer, transfer.ID, now, fmt.Sprintf("transferencia a depósito %d", transfer.DestinationDepositID)); err != nil {
				return err
			}
			dest, err := tx.LockOrCreateStockItem(ctx, transfer.DestinationDepositID, out.item.RepuestoID)
			if err != nil {
				return err
			}
			if _, err := s.apply(ctx, tx, dest, out.qty, RefTransfer, transfer.ID, now, fmt.Sprintf("transferencia desde depósito %d", transfer.OriginDepositID)); err != nil {
				return err
			}
		}
		if err := tx.MarkTransferConfirmed(ctx, transferID, now); err != nil {
			return err
		}
		transfer.Status = TransferConfirmed
		transfer.ConfirmedAt = &now
		transfer.Lines = lines
		confirmed = transfer
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.record(ctx, shared.NewAuditLog(actorID, "transferencia:confirmar", shared.EntityTransfer, transferID, map[string]any{"items": len(confirmed.Lines)}))
	if s.metrics != nil {
		s.metrics.ObserveStockConfirmation("transferencia", len(confirmed.Lines))
	}
	return confirmed, nil
}

// GetTransfer returns the transfer with its lines.
func (s *Service) GetTransfer(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.GetTransfer(ctx, id)
}

// CreateMovement opens an unconfirmed ingress or egress on one deposit.
func (s *Service) CreateMovement(ctx context.Context, input CreateMovementInput) (Movement, error) {
	if !input.Type.Valid() {
		return Movement{}, ErrInvalidMovementType
	}
	if input.DepositID <= 0 {
		return Movement{}, ErrDepositNotFound
	}
	ok, err := s.repo.DepositExists(ctx, input.DepositID)
	if err != nil {
		return Movement{}, fmt.Errorf("inventory: deposit lookup: %w", err)
	}
	if !ok {
		return Movement{}, ErrDepositNotFound
	}
	movement := Movement{
		DepositID:    input.DepositID,
		VoucherType:  strings.TrimSpace(input.VoucherType),
		Type:         input.Type,
		RegisteredAt: input.RegisteredAt,
		UserID:       input.ActorID,
	}
	if movement.RegisteredAt.IsZero() {
		movement.RegisteredAt = s.now()
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.record(ctx, shared.NewAuditLog(input.ActorID, "movimiento:crear", shared.EntityMovement, movement.ID, map[string]any{
		"deposito": input.DepositID,
		"tipo":     string(input.Type),
	}))
	return movement, nil
}

// AddMovementLine appends a stock item of the movement deposit.
func (s *Service) AddMovementLine(ctx context.Context, input LineInput) (MovementLine, error) {
	if input.Qty <= 0 {
		return MovementLine{}, ErrInvalidQuantity
	}
	var line MovementLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		movement, err := tx.GetMovementForUpdate(ctx, input.ParentID)
		if err != nil {
			return err
		}
		if movement.Confirmed {
			return ErrMovementConfirmed
		}
		item, err := tx.GetStockItem(ctx, input.StockItemID)
		if err != nil {
			return err
		}
		if item.DepositID != movement.DepositID {
			return ErrItemNotInDeposit
		}
		line = MovementLine{MovementID: movement.ID, StockItemID: item.ID, Qty: input.Qty}
		id, err := tx.InsertMovementLine(ctx, line)
		if err != nil {
			return err
		}
		line.ID = id
		return nil
	})
	if err != nil {
		return MovementLine{}, err
	}
	return line, nil
}

// RemoveMovementLine deletes a line from an unconfirmed movement.
func (s *Service) RemoveMovementLine(ctx context.Context, movementID, lineID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		movement, err := tx.GetMovementForUpdate(ctx, movementID)
		if err != nil {
			return err
		}
		if movement.Confirmed {
			return ErrMovementConfirmed
		}
		deleted, err := tx.DeleteMovementLine(ctx, movementID, lineID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrLineNotFound
		}
		return nil
	})
}

// ConfirmMovement applies +qty for ingreso and -qty for egreso.
func (s *Service) ConfirmMovement(ctx context.Context, movementID, actorID int64) (Movement, error) {
	var confirmed Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		movement, err := tx.GetMovementForUpdate(ctx, movementID)
		if err != nil {
			return err
		}
		if movement.Confirmed {
			return ErrMovementConfirmed
		}
		lines, err := tx.ListMovementLines(ctx, movementID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrMovementWithoutLines
		}
		totals := aggregateMovement(lines)
		now := s.now()
		note := fmt.Sprintf("%s %s", movement.Type, movement.VoucherType)
		if movement.Type == MovementOut {
			items, err := s.lockForOutflow(ctx, tx, movement.DepositID, totals)
			if err != nil {
				return err
			}
			for _, out := range items {
				if _, err := s.apply(ctx, tx, out.item, -out.qty, RefMovement, movement.ID, now, note); err != nil {
					return err
				}
			}
		} else {
			for _, id := range sortedKeys(totals) {
				item, err := tx.GetStockItemForUpdate(ctx, id)
				if err != nil {
					return err
				}
				if item.DepositID != movement.DepositID {
					return ErrItemNotInDeposit
				}
				if _, err := s.apply(ctx, tx, item, totals[id], RefMovement, movement.ID, now, note); err != nil {
					return err
				}
			}
		}
		if err := tx.MarkMovementConfirmed(ctx, movementID, now); err != nil {
			return err
		}
		movement.Confirmed = true
		movement.ConfirmedAt = &now
		movement.Lines = lines
		confirmed = movement
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	s.record(ctx, shared.NewAuditLog(actorID, "movimiento:confirmar", shared.EntityMovement, movementID, map[string]any{
		"tipo":  string(confirmed.Type),
		"items": len(confirmed.Lines),
	}))
	if s.metrics != nil {
		s.metrics.ObserveStockConfirmation("movimiento_"+string(confirmed.Type), len(confirmed.Lines))
	}
	return confirmed, nil
}

// GetMovement returns the movement with its lines.
func (s *Service) GetMovement(ctx context.Context, id int64) (Movement, error) {
	return s.repo.GetMovement(ctx, id)
}

// PostInbound increments the stock of a repuesto at a deposit exactly once per key.
func (s *Service) PostInbound(ctx context.Context, input InboundInput) (StockCardEntry, error) {
	if input.Key == "" {
		return StockCardEntry{}, errors.New("inventory: inbound key required")
	}
	if input.DepositID <= 0 {
		return StockCardEntry{}, ErrDepositNotFound
	}
	if input.RepuestoID <= 0 {
		return StockCardEntry{}, ErrStockItemNotFound
	}
	if input.Qty <= 0 {
		return StockCardEntry{}, ErrInvalidQuantity
	}
	var entry StockCardEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.ClaimPostingKey(ctx, input.Key); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return ErrAlreadyPosted
			}
			return err
		}
		item, err := tx.LockOrCreateStockItem(ctx, input.DepositID, input.RepuestoID)
		if err != nil {
			return err
		}
		entry, err = s.apply(ctx, tx, item, input.Qty, input.RefModule, input.RefID, s.now(), input.Note)
		return err
	})
	if err != nil {
		return StockCardEntry{}, err
	}
	return entry, nil
}

// ListStock returns every stock item of a deposit.
func (s *Service) ListStock(ctx context.Context, depositID int64) ([]StockItem, error) {
	ok, err := s.repo.DepositExists(ctx, depositID)
	if err != nil {
		return nil, fmt.Errorf("inventory: deposit lookup: %w", err)
	}
	if !ok {
		return nil, ErrDepositNotFound
	}
	return s.repo.ListStock(ctx, depositID)
}

// GetStockCard lists kardex entries of a stock item.
func (s *Service) GetStockCard(ctx context.Context, filter StockCardFilter) ([]StockCardEntry, error) {
	if filter.StockItemID <= 0 {
		return nil, ErrStockItemNotFound
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 200
	}
	return s.repo.GetStockCard(ctx, filter)
}

type outflow struct {
	item StockItem
	qty  float64
}

// lockForOutflow locks the items in id order and checks that each holds the
// requested quantity.
func (s *Service) lockForOutflow(ctx context.Context, tx TxRepository, depositID int64, totals map[int64]float64) ([]outflow, error) {
	out := make([]outflow, 0, len(totals))
	for _, id := range sortedKeys(totals) {
		item, err := tx.GetStockItemForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if item.DepositID != depositID {
			return nil, ErrItemNotInDeposit
		}
		need := totals[id]
		if money.Sub(item.Qty, need) < 0 {
			return nil, fmt.Errorf("%w: repuesto %d (disponible %s, requerido %s)",
				ErrInsufficientStock, item.RepuestoID, shared.FormatQty(item.Qty), shared.FormatQty(need))
		}
		out = append(out, outflow{item: item, qty: need})
	}
	return out, nil
}

func (s *Service) apply(ctx context.Context, tx TxRepository, item StockItem, delta float64, refModule string, refID int64, at time.Time, note string) (StockCardEntry, error) {
	after := money.Sum(item.Qty, delta)
	if err := tx.UpdateStockQty(ctx, item.ID, after, at); err != nil {
		return StockCardEntry{}, err
	}
	entry := StockCardEntry{
		StockItemID: item.ID,
		DepositID:   item.DepositID,
		RepuestoID:  item.RepuestoID,
		RefModule:   refModule,
		RefID:       refID,
		QtyBefore:   item.Qty,
		QtyAfter:    after,
		PostedAt:    at,
		Note:        note,
	}
	if delta > 0 {
		entry.QtyIn = delta
	} else {
		entry.QtyOut = -delta
	}
	id, err := tx.InsertCardEntry(ctx, entry)
	if err != nil {
		return StockCardEntry{}, err
	}
	entry.ID = id
	return entry, nil
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("inventory audit", slog.String("action", log.Action), slog.Any("error", err))
	}
}

func aggregateTransfer(lines []TransferLine) map[int64]float64 {
	totals := make(map[int64]float64, len(lines))
	for _, l := range lines {
		totals[l.StockItemID] = money.Sum(totals[l.StockItemID], l.Qty)
	}
	return totals
}

func aggregateMovement(lines []MovementLine) map[int64]float64 {
	totals := make(map[int64]float64, len(lines))
	for _, l := range lines {
		totals[l.StockItemID] = money.Sum(totals[l.StockItemID], l.Qty)
	}
	return totals
}

func sortedKeys(m map[int64]float64) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
