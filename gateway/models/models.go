package models

import (
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreatorStatus tracks how far the creator of a token has been established.
type CreatorStatus string

// Creator resolution states.
const (
	// CreatorUnknown marks a lazily created record whose creator field still
	// holds the token's own address as a placeholder.
	CreatorUnknown CreatorStatus = "unknown"
	// CreatorPending marks a record whose creation transaction is known but
	// whose sender has not been read from the node yet.
	CreatorPending CreatorStatus = "pending"
	// CreatorVerified marks a creator read from the creation transaction.
	CreatorVerified CreatorStatus = "verified"
)

// Resolution sources recorded in the audit trail.
const (
	SourceIndexer = "indexer"
	SourcePending = "pending"
)

// ErrInvalidAddress is returned when a value is not a 20-byte hex address.
var ErrInvalidAddress = errors.New("invalid address")

// Token is the persisted token record. Address is immutable once created.
type Token struct {
	Address       string        `gorm:"primaryKey;size:42" json:"address"`
	Creator       string        `gorm:"size:42;index" json:"creator"`
	CreatorStatus CreatorStatus `gorm:"size:16;index;not null;default:unknown" json:"creator_status"`
	CreationTx    string        `gorm:"size:66" json:"creation_tx,omitempty"`
	TwitterURL    *string       `gorm:"size:255" json:"twitter_url"`
	TelegramURL   *string       `gorm:"size:255" json:"telegram_url"`
	Website       *string       `gorm:"size:255" json:"website"`
	RegisteredAt  *time.Time    `json:"registered_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Verified reports whether the creator field is authoritative.
func (t *Token) Verified() bool {
	return t != nil && t.CreatorStatus == CreatorVerified
}

// Registered reports whether the creator has published metadata for the token.
func (t *Token) Registered() bool {
	return t != nil && t.RegisteredAt != nil
}

// CreatorResolution is the audit trail of verified creator writes.
type CreatorResolution struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Token      string    `gorm:"size:42;index"`
	Creator    string    `gorm:"size:42"`
	CreationTx string    `gorm:"size:66"`
	Source     string    `gorm:"size:16"`
	ResolvedAt time.Time `gorm:"index"`
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Token{},
		&CreatorResolution{},
	)
}

// CanonicalAddress renders an address as lowercase 0x-prefixed hex.
func CanonicalAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// ParseAddress validates and decodes a hex address, with or without 0x.
func ParseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, ErrInvalidAddress
	}
	return common.HexToAddress(trimmed), nil
}
