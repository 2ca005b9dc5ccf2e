package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hookbot/hookbot/internal/db"
)

// AuditStore persists delivery records. *db.DB satisfies it.
type AuditStore interface {
	InsertDelivery(ctx context.Context, del *db.Delivery, actions []*db.DispatchedAction) error
}

// AuditService records every handled delivery with a SHA-256 evidence hash
// of the raw payload. A nil store disables it.
type AuditService struct {
	store AuditStore
	now   func() time.Time
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store, now: time.Now}
}

func (a *AuditService) Enabled() bool {
	return a != nil && a.store != nil
}

// ActionRecord is the outcome of one action key.
type ActionRecord struct {
	Key       string
	Status    string
	ErrorCode string
}

// RecordInput captures what is needed to log a delivery.
type RecordInput struct {
	DeliveryID     string
	Event          string
	Action         string
	InstallationID int64
	Repo           string
	Status         string
	ErrorCode      string
	Payload        []byte
	Duration       time.Duration
	ReceivedAt     time.Time
	Actions        []ActionRecord
}

// EvidenceHash is the hex SHA-256 of a raw webhook body.
func EvidenceHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Record persists one delivery and its actions. It returns the record id.
func (a *AuditService) Record(ctx context.Context, in RecordInput) (string, error) {
	if !a.Enabled() {
		return "", nil
	}

	recordID := uuid.New().String()
	del := &db.Delivery{
		RecordID:       recordID,
		DeliveryID:     in.DeliveryID,
		Event:          in.Event,
		Action:         in.Action,
		InstallationID: in.InstallationID,
		Repo:           in.Repo,
		Status:         in.Status,
		ErrorCode:      optional(in.ErrorCode),
		EvidenceHash:   EvidenceHash(in.Payload),
		DurationMS:     in.Duration.Milliseconds(),
		ReceivedAt:     in.ReceivedAt.UTC(),
	}

	created := a.now().UTC()
	actions := make([]*db.DispatchedAction, 0, len(in.Actions))
	for _, rec := range in.Actions {
		actions = append(actions, &db.DispatchedAction{
			ActionID:  uuid.New().String(),
			RecordID:  recordID,
			ActionKey: rec.Key,
			Status:    rec.Status,
			ErrorCode: optional(rec.ErrorCode),
			CreatedAt: created,
		})
	}

	if err := a.store.InsertDelivery(ctx, del, actions); err != nil {
		return "", fmt.Errorf("audit delivery %s: %w", in.DeliveryID, err)
	}
	return recordID, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
