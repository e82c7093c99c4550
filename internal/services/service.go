package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"transcriptget/internal/config"
	"transcriptget/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrOutOfCredits         = errors.New("insufficient credits")
	ErrSubscriptionInactive = errors.New("active subscription required")
	ErrEmailTaken           = errors.New("email already registered")
	ErrInvalidCredentials   = errors.New("invalid email or password")
)

type Service struct {
	pool   *pgxpool.Pool
	config config.Config
}

func New(pool *pgxpool.Pool, cfg config.Config) *Service {
	return &Service{pool: pool, config: cfg}
}

const userColumns = `id, email, name, password_hash, google_id, credits_balance, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.GoogleID, &u.CreditsBalance, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return u, err
}

func (s *Service) CreateUser(ctx context.Context, name, email, password string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return models.User{}, ErrInvalidRequest
	}
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}
	var namePtr *string
	if name != "" {
		namePtr = &name
	}
	hash := string(passwordHash)
	user, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		email, namePtr, &hash))
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, err
	}
	if err := s.grantSignupBonus(ctx, &user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (s *Service) grantSignupBonus(ctx context.Context, user *models.User) error {
	bonus := s.config.SignupBonusCredits
	if bonus <= 0 {
		return nil
	}
	entry, _, err := s.ApplyCredit(ctx, ApplyCreditParams{
		UserID:      user.ID,
		Amount:      bonus,
		ExternalID:  fmt.Sprintf("signup_bonus_%d", user.ID),
		Type:        models.LedgerManualAdjustment,
		Description: fmt.Sprintf("Welcome bonus - %d free credits for signing up", bonus),
		Metadata:    map[string]any{"reason": "signup_bonus", "email": user.Email},
	})
	if err != nil {
		return err
	}
	user.CreditsBalance = entry.BalanceAfter
	return nil
}

func (s *Service) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (models.User, error) {
	if email == "" || password == "" {
		return models.User{}, ErrInvalidCredentials
	}
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.User{}, ErrInvalidCredentials
		}
		return models.User{}, err
	}
	if user.PasswordHash == nil {
		return models.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// GetOrCreateUserByGoogleID links a Google sign-in to an account: existing
// google_id wins, then an existing account with the same email gets the
// google_id attached, otherwise a fresh user is created with the signup bonus.
func (s *Service) GetOrCreateUserByGoogleID(ctx context.Context, googleID, email, name string) (models.User, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if googleID == "" || email == "" {
		return models.User{}, false, ErrInvalidRequest
	}

	user, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID))
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.User{}, false, err
	}

	existing, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		_, err = s.pool.Exec(ctx, `UPDATE users SET google_id = $1, updated_at = NOW() WHERE id = $2`, googleID, existing.ID)
		if err != nil {
			return models.User{}, false, err
		}
		existing.GoogleID = &googleID
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.User{}, false, err
	}

	var namePtr *string
	if name != "" {
		namePtr = &name
	}
	user, err = scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (email, name, google_id)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		email, namePtr, googleID))
	if err != nil {
		return models.User{}, false, err
	}
	if err := s.grantSignupBonus(ctx, &user); err != nil {
		return models.User{}, false, err
	}
	return user, true, nil
}

type ApplyCreditParams struct {
	UserID      int64
	Amount      int
	ExternalID  string
	Type        string
	Description string
	Metadata    map[string]any
}

// ApplyCredit applies a signed credit delta to a user's balance exactly once
// per external id. The unique constraint on credit_ledger.external_id closes
// the duplicate-delivery race: a concurrent or earlier application of the
// same event surfaces as a unique violation inside the transaction and is
// returned as a successful no-op (applied=false) with the existing row.
//
// Debits re-read the balance under a row lock, so an insufficient balance
// fails with ErrOutOfCredits and no partial state.
func (s *Service) ApplyCredit(ctx context.Context, p ApplyCreditParams) (models.CreditLedger, bool, error) {
	if p.UserID == 0 || p.ExternalID == "" || p.Amount == 0 || p.Type == "" {
		return models.CreditLedger{}, false, ErrInvalidRequest
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.CreditLedger{}, false, err
	}
	defer tx.Rollback(ctx)

	var balance int
	err = tx.QueryRow(ctx, `SELECT credits_balance FROM users WHERE id = $1 FOR UPDATE`, p.UserID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CreditLedger{}, false, ErrNotFound
	}
	if err != nil {
		return models.CreditLedger{}, false, err
	}

	newBalance := balance + p.Amount
	if p.Amount < 0 && newBalance < 0 {
		return models.CreditLedger{}, false, ErrOutOfCredits
	}

	var entry models.CreditLedger
	err = tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, user_id, type, amount, balance_after, description, external_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, user_id, type, amount, balance_after, description, external_id, metadata, created_at`,
		uuid.NewString(), p.UserID, p.Type, p.Amount, newBalance, p.Description, p.ExternalID, metadata,
	).Scan(&entry.ID, &entry.UserID, &entry.Type, &entry.Amount, &entry.BalanceAfter, &entry.Description, &entry.ExternalID, &entry.Metadata, &entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			existing, lookupErr := s.GetLedgerEntryByExternalID(ctx, p.ExternalID)
			if lookupErr != nil {
				return models.CreditLedger{}, false, lookupErr
			}
			return existing, false, nil
		}
		return models.CreditLedger{}, false, err
	}

	_, err = tx.Exec(ctx, `UPDATE users SET credits_balance = $1, updated_at = NOW() WHERE id = $2`, newBalance, p.UserID)
	if err != nil {
		return models.CreditLedger{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.CreditLedger{}, false, err
	}
	return entry, true, nil
}

func (s *Service) GetLedgerEntryByExternalID(ctx context.Context, externalID string) (models.CreditLedger, error) {
	var entry models.CreditLedger
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, type, amount, balance_after, description, external_id, metadata, created_at
		FROM credit_ledger WHERE external_id = $1`, externalID,
	).Scan(&entry.ID, &entry.UserID, &entry.Type, &entry.Amount, &entry.BalanceAfter, &entry.Description, &entry.ExternalID, &entry.Metadata, &entry.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CreditLedger{}, ErrNotFound
	}
	return entry, err
}

func (s *Service) ListLedger(ctx context.Context, userID int64, limit int) ([]models.CreditLedger, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, type, amount, balance_after, description, external_id, metadata, created_at
		FROM credit_ledger
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []models.CreditLedger
	for rows.Next() {
		var e models.CreditLedger
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Amount, &e.BalanceAfter, &e.Description, &e.ExternalID, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type GrantResult struct {
	UsersTotal int `json:"users_total"`
	Granted    int `json:"granted"`
	Skipped    int `json:"skipped"`
}

// GrantToAllUsers grants amount credits to every user, at most once per run
// id. Re-running with the same run id skips users already granted.
func (s *Service) GrantToAllUsers(ctx context.Context, amount int, runID string) (GrantResult, error) {
	if amount <= 0 || runID == "" {
		return GrantResult{}, ErrInvalidRequest
	}
	rows, err := s.pool.Query(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return GrantResult{}, err
	}
	defer rows.Close()
	var userIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return GrantResult{}, err
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return GrantResult{}, err
	}

	result := GrantResult{UsersTotal: len(userIDs)}
	for _, userID := range userIDs {
		_, applied, err := s.ApplyCredit(ctx, ApplyCreditParams{
			UserID:      userID,
			Amount:      amount,
			ExternalID:  fmt.Sprintf("admin_grant_%s_%d", runID, userID),
			Type:        models.LedgerManualAdjustment,
			Description: fmt.Sprintf("Admin grant: +%d credits", amount),
			Metadata:    map[string]any{"reason": "admin_grant", "run_id": runID, "amount": amount},
		})
		if err != nil {
			return result, err
		}
		if applied {
			result.Granted++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

const subscriptionColumns = `id, user_id, status, plan, current_period_end, processor, processor_subscription_id, processor_customer_id, processor_order_id, created_at, updated_at`

func scanSubscription(row pgx.Row) (models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Status, &sub.Plan, &sub.CurrentPeriodEnd, &sub.Processor,
		&sub.ProcessorSubscriptionID, &sub.ProcessorCustomerID, &sub.ProcessorOrderID, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subscription{}, ErrNotFound
	}
	return sub, err
}

// UpsertSubscription reconciles a subscription row with the processor's view,
// keyed by (processor, processor subscription id). Idempotent by construction;
// it never touches credits.
func (s *Service) UpsertSubscription(ctx context.Context, sub models.Subscription) (models.Subscription, error) {
	if sub.UserID == 0 || sub.Processor == "" || sub.ProcessorSubscriptionID == "" {
		return models.Subscription{}, ErrInvalidRequest
	}
	return scanSubscription(s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (user_id, status, plan, current_period_end, processor,
			processor_subscription_id, processor_customer_id, processor_order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (processor, processor_subscription_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			status = EXCLUDED.status,
			plan = EXCLUDED.plan,
			current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			processor_customer_id = CASE WHEN EXCLUDED.processor_customer_id <> ''
				THEN EXCLUDED.processor_customer_id ELSE subscriptions.processor_customer_id END,
			processor_order_id = CASE WHEN EXCLUDED.processor_order_id <> ''
				THEN EXCLUDED.processor_order_id ELSE subscriptions.processor_order_id END,
			updated_at = NOW()
		RETURNING `+subscriptionColumns,
		sub.UserID, sub.Status, sub.Plan, sub.CurrentPeriodEnd, sub.Processor,
		sub.ProcessorSubscriptionID, sub.ProcessorCustomerID, sub.ProcessorOrderID))
}

func (s *Service) UpdateSubscriptionStatus(ctx context.Context, processor, processorSubscriptionID, status string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET status = $1, updated_at = NOW()
		WHERE processor = $2 AND processor_subscription_id = $3`,
		status, processor, processorSubscriptionID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) GetSubscriptionByProcessorID(ctx context.Context, processor, processorSubscriptionID string) (models.Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE processor = $1 AND processor_subscription_id = $2`,
		processor, processorSubscriptionID))
}

// LatestSubscription returns the user's most recent subscription in any
// status, or ErrNotFound if they never subscribed.
func (s *Service) LatestSubscription(ctx context.Context, userID int64) (models.Subscription, error) {
	return scanSubscription(s.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, userID))
}

func (s *Service) HasActiveSubscription(ctx context.Context, userID int64) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(1) FROM subscriptions
		WHERE user_id = $1 AND status = $2`, userID, models.SubscriptionActive).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
