package runreg

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/racehub/raceday-worker/internal/models"
	"github.com/racehub/raceday-worker/internal/provider"
)

func testCredential(baseURL string) *models.ProviderCredential {
	secret := "key-123"
	return &models.ProviderCredential{
		ID:        "cred-1",
		PartnerID: "partner-1",
		Provider:  Name,
		Principal: "client-1",
		Secret:    &secret,
		BaseURL:   baseURL,
		Enabled:   true,
	}
}

func TestAdapter_ListParticipants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))
		require.Equal(t, "/v2/events/ev-9/participants", r.URL.Path)
		assert.Equal(t, "2026-05-16T10:00:00Z", r.URL.Query().Get("updated_after"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"rows": [
				{"registration_id": "r1", "first_name": "Ada", "last_name": "Park", "bib": "101", "updated_at": "2026-05-16T11:00:00Z"},
				{"registration_id": "", "first_name": "Broken"},
				{"registration_id": "r2", "first_name": "Sam", "last_name": "Cho"}
			],
			"next_cursor": "page-2"
		}`))
	}))
	defer srv.Close()

	a := New()
	sess, err := a.Authenticate(context.Background(), testCredential(srv.URL))
	require.NoError(t, err)

	since := time.Date(2026, 5, 16, 10, 0, 0, 0, time.UTC)
	page, err := a.ListParticipants(context.Background(), sess, "ev-9", &since, "", 50)
	require.NoError(t, err)

	require.Len(t, page.Participants, 2)
	assert.Equal(t, "r1", page.Participants[0].ProviderParticipantID)
	require.NotNil(t, page.Participants[0].UpdatedAt)
	assert.Equal(t, "page-2", page.NextCursor)
	require.Len(t, page.RowErrors, 1)
	assert.Equal(t, models.ErrKindData, provider.ErrorKind(page.RowErrors[0]))
}

func TestAdapter_ListEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/events", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"rows": [{"event_id": "ev-1", "name": "5K Fun Run", "start_time": "2026-06-01T09:00:00Z"}],
			"next_cursor": ""
		}`))
	}))
	defer srv.Close()

	a := New()
	sess, err := a.Authenticate(context.Background(), testCredential(srv.URL))
	require.NoError(t, err)

	page, err := a.ListEvents(context.Background(), sess, "", 100)
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	assert.Equal(t, "5K Fun Run", page.Events[0].Name)
	require.NotNil(t, page.Events[0].ScheduledStart)
	assert.Empty(t, page.NextCursor)
}

func TestAdapter_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind string
	}{
		{"unauthorized", http.StatusUnauthorized, models.ErrKindAuth},
		{"forbidden", http.StatusForbidden, models.ErrKindAuth},
		{"quota exceeded", http.StatusTooManyRequests, models.ErrKindRateLimit},
		{"server error", http.StatusBadGateway, models.ErrKindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			a := New()
			sess, err := a.Authenticate(context.Background(), testCredential(srv.URL))
			require.NoError(t, err)

			_, err = a.ListEvents(context.Background(), sess, "", 10)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, provider.ErrorKind(err))
		})
	}
}

func TestAdapter_AuthenticateRequiresSecret(t *testing.T) {
	a := New()
	cred := testCredential("http://example.invalid")
	cred.Secret = nil

	_, err := a.Authenticate(context.Background(), cred)
	require.Error(t, err)
	assert.Equal(t, models.ErrKindAuth, provider.ErrorKind(err))
}
