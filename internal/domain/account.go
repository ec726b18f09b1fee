/**
 * @description
 * Account models for the satellite-service. A Client is a principal account that
 * owns Satellites; a Satellite is a delegated sub-account holding a staged balance.
 * Both satisfy the sealed Account interface, so callers switch on the concrete type
 * instead of probing for fields.
 */
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind identifies the concrete variant of an Account.
type AccountKind string

const (
	KindClient    AccountKind = "client"
	KindSatellite AccountKind = "satellite"
)

// ParseAccountKind maps a path segment or payload value onto an AccountKind.
func ParseAccountKind(raw string) (AccountKind, bool) {
	switch AccountKind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindClient, "clients":
		return KindClient, true
	case KindSatellite, "satellites":
		return KindSatellite, true
	default:
		return "", false
	}
}

// Account is implemented only by *Client and *Satellite.
type Account interface {
	Kind() AccountKind
	Base() *AccountBase
	sealed()
}

// Profile holds the contact fields shared by both account kinds.
type Profile struct {
	Name     string     `json:"name"`
	LastName string     `json:"last_name"`
	Email    string     `json:"email"`
	Phone    string     `json:"phone"`
	Country  string     `json:"country"`
	City     string     `json:"city"`
	Address  string     `json:"address"`
	Born     *time.Time `json:"born,omitempty"`
}

// Verification holds the identity verification flags.
type Verification struct {
	EmailVerified      bool       `json:"email_verified"`
	DocumentVerified   bool       `json:"document_verified"`
	DocumentVerifiedAt *time.Time `json:"document_verified_at,omitempty"`
}

// AccountBase is the capability set shared by Client and Satellite.
type AccountBase struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Profile
	Verification
	Blocked        bool      `json:"blocked"`
	InvitationCode string    `json:"invitation_code"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Client is a principal account with an aggregate balance.
type Client struct {
	AccountBase
	FullName     string              `json:"full_name"`
	Shoulder     decimal.NullDecimal `json:"shoulder"`
	GrowthRate   decimal.NullDecimal `json:"growth_rate"`
	Commission   decimal.Decimal     `json:"commission"`
	TotalBalance decimal.Decimal     `json:"total_balance"`
}

func (c *Client) Kind() AccountKind  { return KindClient }
func (c *Client) Base() *AccountBase { return &c.AccountBase }
func (c *Client) sealed()            {}

// HasGrowthParameters reports whether the client carries both shoulder and growth rate.
func (c *Client) HasGrowthParameters() bool {
	return c.Shoulder.Valid && c.GrowthRate.Valid
}

// Satellite is a sub-account whose funds move blocked -> active -> withdrawal.
type Satellite struct {
	AccountBase
	UUID                string              `json:"uuid"`
	System              bool                `json:"system"`
	IsOriginal          bool                `json:"is_original"`
	BlockBalance        decimal.Decimal     `json:"block_balance"`
	ActiveBalance       decimal.Decimal     `json:"active_balance"`
	Withdrawal          decimal.Decimal     `json:"withdrawal"`
	Deposit             decimal.NullDecimal `json:"deposit"`
	DepositTime         *time.Time          `json:"deposit_time,omitempty"`
	Interval            *time.Duration      `json:"interval,omitempty"`
	SecondInterval      *time.Duration      `json:"second_interval,omitempty"`
	MigrationTime       *time.Time          `json:"migration_time,omitempty"`
	SecondMigrationTime *time.Time          `json:"second_migration_time,omitempty"`
	ClientID            *int64              `json:"client_id,omitempty"`
	Order               int                 `json:"order"`
}

func (s *Satellite) Kind() AccountKind  { return KindSatellite }
func (s *Satellite) Base() *AccountBase { return &s.AccountBase }
func (s *Satellite) sealed()            {}

// IsTemplate reports whether the satellite is an unbound system template.
func (s *Satellite) IsTemplate() bool {
	return s.System && s.ClientID == nil
}

// BelongsTo reports whether the satellite is bound to the given client.
func (s *Satellite) BelongsTo(clientID int64) bool {
	return s.ClientID != nil && *s.ClientID == clientID
}

// TotalBalance sums the three stages.
func (s *Satellite) TotalBalance() decimal.Decimal {
	return s.BlockBalance.Add(s.ActiveBalance).Add(s.Withdrawal)
}

// Clone returns a deep copy so callers can keep a pre-write snapshot.
func (s *Satellite) Clone() *Satellite {
	out := *s
	out.Born = copyTime(s.Born)
	out.DocumentVerifiedAt = copyTime(s.DocumentVerifiedAt)
	out.DepositTime = copyTime(s.DepositTime)
	out.MigrationTime = copyTime(s.MigrationTime)
	out.SecondMigrationTime = copyTime(s.SecondMigrationTime)
	out.Interval = copyDuration(s.Interval)
	out.SecondInterval = copyDuration(s.SecondInterval)
	if s.ClientID != nil {
		id := *s.ClientID
		out.ClientID = &id
	}
	return &out
}

// Clone returns a deep copy of the client.
func (c *Client) Clone() *Client {
	out := *c
	out.Born = copyTime(c.Born)
	out.DocumentVerifiedAt = copyTime(c.DocumentVerifiedAt)
	return &out
}

// NormalizeEmail trims and lowercases an address for comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyDuration(d *time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
