// Package ledger models the append-only MIC ledger. Balances are always derived
// by summing entries; a wallet's cached balance is never authoritative.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for zero, non-finite or out-of-range amounts
	ErrInvalidAmount = errors.New("amount must be a finite non-zero number")
	// ErrUnknownReason is returned for a reason outside the enumerated set
	ErrUnknownReason = errors.New("unknown ledger reason")
	// ErrBalanceMismatch means earned minus spent disagreed with the raw sum
	ErrBalanceMismatch = errors.New("ledger balance mismatch")
)

// AmountScale is the number of decimal places an entry is rounded to
const AmountScale = 2

// MaxAbsAmount bounds a single entry
var MaxAbsAmount = decimal.NewFromInt(1_000_000_000_000)

// Reason categorizes a ledger entry
type Reason string

const (
	ReasonLearn      Reason = "LEARN"
	ReasonEarn       Reason = "EARN"
	ReasonCorrection Reason = "CORRECTION"
	ReasonBonus      Reason = "BONUS"
	ReasonReflection Reason = "REFLECTION"
	ReasonCivic      Reason = "CIVIC"
	ReasonSpend      Reason = "SPEND"
	ReasonGenesis    Reason = "GENESIS"
)

// Valid reports whether r is a known reason
func (r Reason) Valid() bool {
	switch r {
	case ReasonLearn, ReasonEarn, ReasonCorrection, ReasonBonus, ReasonReflection, ReasonCivic, ReasonSpend, ReasonGenesis:
		return true
	default:
		return false
	}
}

// ReasonFromSource derives the reason category from a source identifier prefix
func ReasonFromSource(source string) Reason {
	s := strings.ToLower(strings.TrimSpace(source))
	switch {
	case strings.HasPrefix(s, "learning"), strings.HasPrefix(s, "oaa"):
		return ReasonLearn
	case strings.HasPrefix(s, "reflection"):
		return ReasonReflection
	case strings.HasPrefix(s, "civic"), strings.HasPrefix(s, "shield"):
		return ReasonCivic
	case strings.HasPrefix(s, "market"):
		return ReasonSpend
	default:
		return ReasonEarn
	}
}

// ParseAmount validates a signed amount and rounds it to AmountScale places
func ParseAmount(amount float64) (decimal.Decimal, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount == 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	d := decimal.NewFromFloat(amount).Round(AmountScale)
	if d.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %v rounds to zero", ErrInvalidAmount, amount)
	}
	if d.Abs().GreaterThan(MaxAbsAmount) {
		return decimal.Zero, fmt.Errorf("%w: %v exceeds %s", ErrInvalidAmount, amount, MaxAbsAmount)
	}
	return d, nil
}

// Entry is one immutable ledger line
type Entry struct {
	ID             string          `json:"id"`
	WalletID       string          `json:"walletId"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         Reason          `json:"reason"`
	Source         string          `json:"source"`
	Meta           map[string]any  `json:"meta"`
	IntegrityScore float64         `json:"integrityScore"`
	GII            float64         `json:"gii"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// NewEntry creates an entry; amount must already be validated
func NewEntry(walletID string, amount decimal.Decimal, reason Reason, source string, meta map[string]any, now time.Time) *Entry {
	if meta == nil {
		meta = map[string]any{}
	}
	return &Entry{
		ID:             uuid.NewString(),
		WalletID:       walletID,
		Amount:         amount,
		Reason:         reason,
		Source:         source,
		Meta:           meta,
		IntegrityScore: integrityScore(meta),
		CreatedAt:      now.UTC().Truncate(time.Microsecond),
	}
}

// integrityScore reads meta.integrity_score, defaulting to 1.0
func integrityScore(meta map[string]any) float64 {
	switch v := meta["integrity_score"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 1.0
	}
}

// Balance is the balance derived from a wallet's entries
type Balance struct {
	Balance     decimal.Decimal `json:"balance"`
	TotalEarned decimal.Decimal `json:"totalEarned"`
	TotalSpent  decimal.Decimal `json:"totalSpent"`
	EntryCount  int             `json:"entryCount"`
	LastEntryAt *time.Time      `json:"lastEntryAt,omitzero"`
}

// Summarize folds entries into a Balance.
// Balance is the raw sum; TotalSpent is the absolute sum of debits.
func Summarize(entries []*Entry) *Balance {
	b := &Balance{
		Balance:     decimal.Zero,
		TotalEarned: decimal.Zero,
		TotalSpent:  decimal.Zero,
	}
	for _, e := range entries {
		b.Balance = b.Balance.Add(e.Amount)
		if e.Amount.IsPositive() {
			b.TotalEarned = b.TotalEarned.Add(e.Amount)
		} else {
			b.TotalSpent = b.TotalSpent.Add(e.Amount.Abs())
		}
		if b.LastEntryAt == nil || e.CreatedAt.After(*b.LastEntryAt) {
			at := e.CreatedAt
			b.LastEntryAt = &at
		}
		b.EntryCount++
	}
	return b
}

// Check verifies that earned minus spent equals the raw sum
func (b *Balance) Check() error {
	if !b.TotalEarned.Sub(b.TotalSpent).Equal(b.Balance) {
		return fmt.Errorf("%w: earned %s - spent %s != %s", ErrBalanceMismatch, b.TotalEarned, b.TotalSpent, b.Balance)
	}
	return nil
}

// Page selects a window of a newest-first listing
type Page struct {
	Limit  int
	Offset int
}

// Clamp bounds limit to [1, maxLimit] using def when unset, and offset to >= 0
func (p Page) Clamp(def, maxLimit int) Page {
	if p.Limit <= 0 {
		p.Limit = def
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ReasonTotals aggregates entries of one reason
type ReasonTotals struct {
	Count  int             `json:"count"`
	Earned decimal.Decimal `json:"earned"`
	Spent  decimal.Decimal `json:"spent"`
}

// Stats aggregates the whole ledger
type Stats struct {
	TotalEntries  int                     `json:"totalEntries"`
	UniqueWallets int                     `json:"uniqueWallets"`
	TotalEarned   decimal.Decimal         `json:"totalEarned"`
	TotalSpent    decimal.Decimal         `json:"totalSpent"`
	ByReason      map[Reason]ReasonTotals `json:"byReason"`
	BySource      map[string]int          `json:"bySource"`
}

// NetSupply is the sum of every balance
func (s *Stats) NetSupply() decimal.Decimal {
	return s.TotalEarned.Sub(s.TotalSpent)
}
