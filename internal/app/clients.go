package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harvain/satellite-service/internal/domain"
	"github.com/harvain/satellite-service/internal/ledger"
	"github.com/harvain/satellite-service/internal/profile"
	"github.com/harvain/satellite-service/internal/store"
)

// NewClient is the input of CreateClient.
type NewClient struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	domain.Profile
	InvitationCode string              `json:"invitation_code"`
	Blocked        bool                `json:"blocked"`
	Shoulder       decimal.NullDecimal `json:"shoulder"`
	GrowthRate     decimal.NullDecimal `json:"growth_rate"`
	Commission     *decimal.Decimal    `json:"commission,omitempty"`
}

// CreateClientResult holds the new client and the satellites cloned for it.
type CreateClientResult struct {
	Client     *domain.Client      `json:"client"`
	Satellites []*domain.Satellite `json:"satellites"`
}

// ClientUpdate is a partial update of a client. Nil fields are left unchanged.
type ClientUpdate struct {
	Version          *int64           `json:"version,omitempty"`
	Username         *string          `json:"username,omitempty"`
	FullName         *string          `json:"full_name,omitempty"`
	Name             *string          `json:"name,omitempty"`
	LastName         *string          `json:"last_name,omitempty"`
	Email            *string          `json:"email,omitempty"`
	Phone            *string          `json:"phone,omitempty"`
	Country          *string          `json:"country,omitempty"`
	City             *string          `json:"city,omitempty"`
	Address          *string          `json:"address,omitempty"`
	Born             *time.Time       `json:"born,omitempty"`
	EmailVerified    *bool            `json:"email_verified,omitempty"`
	DocumentVerified *bool            `json:"document_verified,omitempty"`
	Blocked          *bool            `json:"blocked,omitempty"`
	InvitationCode   *string          `json:"invitation_code,omitempty"`
	Shoulder         *decimal.Decimal `json:"shoulder,omitempty"`
	GrowthRate       *decimal.Decimal `json:"growth_rate,omitempty"`
	Commission       *decimal.Decimal `json:"commission,omitempty"`
}

func (u ClientUpdate) apply(c *domain.Client, now time.Time) {
	setString(&c.Username, u.Username)
	setString(&c.FullName, u.FullName)
	setString(&c.Name, u.Name)
	setString(&c.LastName, u.LastName)
	setString(&c.Email, u.Email)
	setString(&c.Phone, u.Phone)
	setString(&c.Country, u.Country)
	setString(&c.City, u.City)
	setString(&c.Address, u.Address)
	setString(&c.InvitationCode, u.InvitationCode)
	if u.Born != nil {
		born := *u.Born
		c.Born = &born
	}
	if u.EmailVerified != nil {
		c.EmailVerified = *u.EmailVerified
	}
	if u.DocumentVerified != nil {
		setDocumentVerified(&c.AccountBase, *u.DocumentVerified, now)
	}
	if u.Blocked != nil {
		c.Blocked = *u.Blocked
	}
	if u.Shoulder != nil {
		c.Shoulder = decimal.NewNullDecimal(*u.Shoulder)
	}
	if u.GrowthRate != nil {
		c.GrowthRate = decimal.NewNullDecimal(*u.GrowthRate)
	}
	if u.Commission != nil {
		c.Commission = *u.Commission
	}
}

// CreateClient stores a client and clones every unbound system template for it.
func (s *Service) CreateClient(ctx context.Context, in NewClient) (*CreateClientResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return nil, fmt.Errorf("%w: username is required", domain.ErrInvalidState)
	}

	client := &domain.Client{
		AccountBase: domain.AccountBase{
			Username:       in.Username,
			Profile:        in.Profile,
			Blocked:        in.Blocked,
			InvitationCode: in.InvitationCode,
		},
		FullName:   strings.TrimSpace(in.FullName),
		Shoulder:   in.Shoulder,
		GrowthRate: in.GrowthRate,
		Commission: s.commission,
	}
	if in.Commission != nil {
		client.Commission = *in.Commission
	}

	res := &CreateClientResult{Client: client}
	err := s.repo.WithTx(ctx, func(tx store.Repository) error {
		res.Satellites = nil
		if err := tx.CreateClient(ctx, client); err != nil {
			return err
		}

		templates, err := tx.ListSystemTemplates(ctx)
		if err != nil {
			return fmt.Errorf("list system templates: %w", err)
		}
		for _, tmpl := range templates {
			sat := cloneTemplate(tmpl, client)
			if err := tx.CreateSatellite(ctx, sat); err != nil {
				return fmt.Errorf("clone template %d: %w", tmpl.ID, err)
			}
			res.Satellites = append(res.Satellites, sat)
		}
		return refreshClientTotal(ctx, tx, client, false)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("client created", "client_id", client.ID, "cloned_satellites", len(res.Satellites))
	ids := make([]int64, 0, len(res.Satellites))
	for _, sat := range res.Satellites {
		ids = append(ids, sat.ID)
	}
	s.publish(ctx, domain.RoutingClientCreated, domain.ClientCreatedEvent{
		ClientID:     client.ID,
		Username:     client.Username,
		SatelliteIDs: ids,
	})
	return res, nil
}

// cloneTemplate derives a client's own satellite from a system template. The
// opening block balance is the growth projection of the template deposit.
func cloneTemplate(tmpl *domain.Satellite, client *domain.Client) *domain.Satellite {
	sat := tmpl.Clone()
	sat.ID = 0
	sat.Version = 0
	sat.IsOriginal = false
	sat.Username = fmt.Sprintf("%s_%s", tmpl.Username, uuid.NewString())
	sat.Phone = client.Phone
	sat.Email = client.Email
	sat.Country = client.Country
	sat.Name = client.Username
	sat.LastName = client.FullName
	clientID := client.ID
	sat.ClientID = &clientID

	sat.BlockBalance = decimal.Zero
	if tmpl.Deposit.Valid && !tmpl.Deposit.Decimal.IsZero() && client.HasGrowthParameters() {
		amount := ledger.ProjectGrowth(tmpl.Deposit.Decimal, client.Shoulder.Decimal, client.GrowthRate.Decimal, client.Commission)
		sat.BlockBalance = amount.Round(1)
	}
	return sat
}

// ApplyClientUpdate applies a partial update to a client and pushes its
// consequences to the client's satellites in one transaction.
func (s *Service) ApplyClientUpdate(ctx context.Context, id int64, upd ClientUpdate) (*domain.Client, error) {
	return s.updateClient(ctx, id, upd.Version, func(c *domain.Client) {
		upd.apply(c, s.now())
	})
}

func (s *Service) updateClient(ctx context.Context, id int64, expectedVersion *int64, mutate func(*domain.Client)) (*domain.Client, error) {
	var saved *domain.Client
	err := withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(tx store.Repository) error {
			client, err := tx.LockClient(ctx, id)
			if err != nil {
				return err
			}
			if expectedVersion != nil && *expectedVersion != client.Version {
				return domain.ErrConcurrentModification
			}

			prev := client.Clone()
			mutate(client)
			if strings.TrimSpace(client.Username) == "" {
				return fmt.Errorf("%w: username is required", domain.ErrInvalidState)
			}
			if err := s.writeClient(ctx, tx, prev, client); err != nil {
				return err
			}
			saved = client
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// writeClient pushes a client change onto its satellites: email reset and
// verification flags first, then re-projection of system satellites when the
// economic parameters moved. Every touched satellite goes through the ledger.
func (s *Service) writeClient(ctx context.Context, tx store.Repository, prev, next *domain.Client) error {
	now := s.now()

	sats, err := tx.ListSatellitesByClient(ctx, next.ID)
	if err != nil {
		return fmt.Errorf("list client satellites: %w", err)
	}
	before := make(map[int64]*domain.Satellite, len(sats))
	for _, sat := range sats {
		before[sat.ID] = sat.Clone()
	}

	touched := make(map[int64]*domain.Satellite)
	for _, sat := range profile.SyncClientToSatellites(prev, next, sats) {
		touched[sat.ID] = sat
	}

	if economicsChanged(prev, next) {
		for _, sat := range sats {
			if !sat.System {
				continue
			}
			reproject(sat, next)
			if !sameBalances(balancesOf(sat), balancesOf(before[sat.ID])) {
				touched[sat.ID] = sat
			}
		}
	}

	for _, sat := range sats {
		if _, ok := touched[sat.ID]; !ok {
			continue
		}
		old := before[sat.ID]
		b := balancesOf(old)
		applyLedger(sat, ledger.Reconcile(&b, stateOf(sat), now))
		if err := tx.SaveSatellite(ctx, sat); err != nil {
			return fmt.Errorf("save satellite %d: %w", sat.ID, err)
		}
		for _, entry := range satelliteHistory(ctx, old, sat, now, domain.HistorySatelliteBalanceChange) {
			entry := entry
			if err := tx.InsertHistory(ctx, &entry); err != nil {
				return fmt.Errorf("record history: %w", err)
			}
		}
	}

	return refreshClientTotal(ctx, tx, next, true)
}

func economicsChanged(prev, next *domain.Client) bool {
	return !ledger.SameDeposit(prev.Shoulder, next.Shoulder) ||
		!ledger.SameDeposit(prev.GrowthRate, next.GrowthRate) ||
		!prev.Commission.Equal(next.Commission)
}

// reproject recomputes a system satellite's projected balance from its deposit.
// Without a deposit or growth parameters the blocked balance drops to zero.
func reproject(sat *domain.Satellite, client *domain.Client) {
	if sat.Deposit.Valid && !sat.Deposit.Decimal.IsZero() && client.HasGrowthParameters() {
		amount := ledger.ProjectGrowth(sat.Deposit.Decimal, client.Shoulder.Decimal, client.GrowthRate.Decimal, client.Commission)
		setBalances(sat, ledger.ApplyProjection(balancesOf(sat), amount))
		return
	}
	sat.BlockBalance = decimal.Zero
}

// DeleteClient removes a client and its satellites, keeping a snapshot in the history log.
func (s *Service) DeleteClient(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(tx store.Repository) error {
		client, err := tx.LockClient(ctx, id)
		if err != nil {
			return err
		}
		sats, err := tx.ListSatellitesByClient(ctx, id)
		if err != nil {
			return fmt.Errorf("list client satellites: %w", err)
		}

		snapshot := removalSnapshot{
			Client: removedClient{Username: client.Username, FullName: client.FullName},
		}
		for _, sat := range sats {
			if sat.System {
				snapshot.Satellites = append(snapshot.Satellites, sat)
			}
		}
		info, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("marshal removal snapshot: %w", err)
		}

		clientID := client.ID
		entry := &domain.HistoryEntry{
			ActionTime:     s.now(),
			Type:           domain.HistoryClientRemoval,
			ChangeMessage:  fmt.Sprintf("client %d:\n %s was deleted", client.ID, client.FullName),
			Actor:          domain.ActorFrom(ctx),
			ClientID:       &clientID,
			AdditionalInfo: string(info),
		}
		if err := tx.InsertHistory(ctx, entry); err != nil {
			return fmt.Errorf("record history: %w", err)
		}
		return tx.DeleteClient(ctx, id)
	})
}

type removedClient struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

type removalSnapshot struct {
	Client     removedClient       `json:"client"`
	Satellites []*domain.Satellite `json:"satellites"`
}

func newClientFrom(c *domain.Client) NewClient {
	in := NewClient{
		Username:       c.Username,
		FullName:       c.FullName,
		Profile:        c.Profile,
		InvitationCode: c.InvitationCode,
		Blocked:        c.Blocked,
		Shoulder:       c.Shoulder,
		GrowthRate:     c.GrowthRate,
	}
	if !c.Commission.IsZero() {
		commission := c.Commission
		in.Commission = &commission
	}
	return in
}

// replaceClient copies every caller-editable field of src onto dst.
func replaceClient(dst, src *domain.Client) {
	id, version, created, total := dst.ID, dst.Version, dst.CreatedAt, dst.TotalBalance
	*dst = *src.Clone()
	dst.ID, dst.Version, dst.CreatedAt, dst.TotalBalance = id, version, created, total
}
