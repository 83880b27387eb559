package account

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmgate/backend/internal/auth"
	"github.com/swarmgate/backend/internal/ledger"
	"github.com/swarmgate/backend/internal/middleware"
	"github.com/swarmgate/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubLedger struct {
	acc  *models.CreditAccount
	txns []*models.CreditTransaction
	err  error
}

func (s *stubLedger) Balance(context.Context, uuid.UUID) (*models.CreditAccount, error) {
	return s.acc, s.err
}

func (s *stubLedger) Transactions(context.Context, uuid.UUID, int) ([]*models.CreditTransaction, error) {
	return s.txns, nil
}

type memKeys struct {
	mu   sync.Mutex
	keys map[uuid.UUID]*models.APIKey
}

func newMemKeys() *memKeys { return &memKeys{keys: map[uuid.UUID]*models.APIKey{}} }

func (m *memKeys) Create(_ context.Context, k *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[k.ID] = k
	return nil
}

func (m *memKeys) ListByUserID(_ context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memKeys) Deactivate(_ context.Context, userID, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok || k.UserID != userID || !k.IsActive {
		return pgx.ErrNoRows
	}
	k.IsActive = false
	return nil
}

func asCaller(r *http.Request, id uuid.UUID) *http.Request {
	return r.WithContext(middleware.WithCaller(r.Context(), id))
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestGetCredits(t *testing.T) {
	caller := uuid.New()
	l := &stubLedger{
		acc: &models.CreditAccount{UserID: caller, FreeCredit: decimal.RequireFromString("1.5"), Credit: decimal.RequireFromString("2")},
		txns: []*models.CreditTransaction{
			{ID: uuid.New(), UserID: caller, Amount: decimal.RequireFromString("0.25"), Memo: "swarm_execution_demo"},
		},
	}
	h := NewHandler(l, newMemKeys(), nil)

	rec := httptest.NewRecorder()
	h.GetCredits(rec, asCaller(httptest.NewRequest(http.MethodGet, "/v1/credits", nil), caller))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Available    decimal.Decimal            `json:"available"`
		Transactions []models.CreditTransaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Available.Equal(decimal.RequireFromString("3.5")))
	require.Len(t, body.Transactions, 1)
	assert.Equal(t, "swarm_execution_demo", body.Transactions[0].Memo)
}

func TestGetCredits_Errors(t *testing.T) {
	caller := uuid.New()
	for name, c := range map[string]struct {
		err  error
		want int
	}{
		"no account": {ledger.ErrAccountNotFound, http.StatusNotFound},
		"store down": {errors.New("boom"), http.StatusInternalServerError},
	} {
		t.Run(name, func(t *testing.T) {
			h := NewHandler(&stubLedger{err: c.err}, newMemKeys(), nil)
			rec := httptest.NewRecorder()
			h.GetCredits(rec, asCaller(httptest.NewRequest(http.MethodGet, "/v1/credits", nil), caller))
			assert.Equal(t, c.want, rec.Code)
			assert.NotContains(t, rec.Body.String(), "boom")
		})
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	caller := uuid.New()
	keys := newMemKeys()
	h := NewHandler(&stubLedger{}, keys, nil)

	rec := httptest.NewRecorder()
	h.CreateAPIKey(rec, asCaller(httptest.NewRequest(http.MethodPost, "/v1/keys", nil), caller))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		ID     uuid.UUID `json:"id"`
		RawKey string    `json:"raw_key"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, strings.HasPrefix(created.RawKey, keyPrefix))
	assert.Equal(t, auth.HashKey(created.RawKey), keys.keys[created.ID].KeyHash)

	rec = httptest.NewRecorder()
	h.ListAPIKeys(rec, asCaller(httptest.NewRequest(http.MethodGet, "/v1/keys", nil), caller))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), keys.keys[created.ID].KeyHash)

	// Another caller cannot revoke it.
	req := httptest.NewRequest(http.MethodDelete, "/v1/keys/"+created.ID.String(), nil)
	req.SetPathValue("id", created.ID.String())
	rec = httptest.NewRecorder()
	h.RevokeAPIKey(rec, asCaller(req, uuid.New()))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.RevokeAPIKey(rec, asCaller(req, caller))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, keys.keys[created.ID].IsActive)

	bad := httptest.NewRequest(http.MethodDelete, "/v1/keys/nope", nil)
	bad.SetPathValue("id", "nope")
	rec = httptest.NewRecorder()
	h.RevokeAPIKey(rec, asCaller(bad, caller))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
