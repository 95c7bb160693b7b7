// Package runreg implements the provider adapter for the RunReg
// registration API: OAuth2 refresh-token auth, cursor pagination, and
// updated-since filtering on participants and results.
package runreg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/racehub/raceday-worker/internal/models"
	"github.com/racehub/raceday-worker/internal/provider"
)

const (
	Name           = "runreg"
	dataSource     = "registration-api"
	defaultTimeout = 20 * time.Second
)

type Adapter struct{}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Name() string       { return Name }
func (a *Adapter) DataSource() string { return dataSource }

// session carries the authenticated HTTP client for one credential.
type session struct {
	client  *http.Client
	baseURL string
}

// Authenticate builds an HTTP client for the credential. With a refresh
// token the oauth2 token source refreshes transparently; otherwise the
// secret is sent as a bearer key.
func (a *Adapter) Authenticate(ctx context.Context, cred *models.ProviderCredential) (provider.Session, error) {
	timeout := defaultTimeout
	if cred.TimeoutSecs > 0 {
		timeout = time.Duration(cred.TimeoutSecs) * time.Second
	}

	if cred.RefreshToken != nil && *cred.RefreshToken != "" {
		secret := ""
		if cred.Secret != nil {
			secret = *cred.Secret
		}
		conf := &oauth2.Config{
			ClientID:     cred.Principal,
			ClientSecret: secret,
			Endpoint: oauth2.Endpoint{
				TokenURL: cred.BaseURL + "/oauth2/token",
			},
		}
		token := &oauth2.Token{RefreshToken: *cred.RefreshToken}
		ts := conf.TokenSource(ctx, token)
		if _, err := ts.Token(); err != nil {
			return nil, &provider.AuthError{Provider: Name, Err: err}
		}
		client := oauth2.NewClient(ctx, ts)
		client.Timeout = timeout
		return &session{client: client, baseURL: cred.BaseURL}, nil
	}

	if cred.Secret == nil || *cred.Secret == "" {
		return nil, &provider.AuthError{Provider: Name, Err: fmt.Errorf("credential has no secret")}
	}
	return &session{
		client:  &http.Client{Timeout: timeout, Transport: &apiKeyTransport{key: *cred.Secret}},
		baseURL: cred.BaseURL,
	}, nil
}

type apiKeyTransport struct {
	key string
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.key)
	return http.DefaultTransport.RoundTrip(clone)
}

type eventRow struct {
	ID    string  `json:"event_id"`
	Name  string  `json:"name"`
	Start *string `json:"start_time"` // RFC3339
}

type participantRow struct {
	ID        string  `json:"registration_id"`
	Bib       *string `json:"bib"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Division  *string `json:"division"`
	Status    *string `json:"status"`
	UpdatedAt *string `json:"updated_at"`
}

type resultRow struct {
	ID          string   `json:"registration_id"`
	Place       *int     `json:"place"`
	ChipSeconds *float64 `json:"chip_seconds"`
	GunSeconds  *float64 `json:"gun_seconds"`
	FinishedAt  *string  `json:"finished_at"`
	UpdatedAt   *string  `json:"updated_at"`
}

type listResponse struct {
	Rows       []json.RawMessage `json:"rows"`
	NextCursor string            `json:"next_cursor"`
}

func (a *Adapter) ListEvents(ctx context.Context, s provider.Session, cursor string, limit int) (*provider.EventPage, error) {
	sess, err := a.session(s)
	if err != nil {
		return nil, err
	}

	resp, err := a.get(ctx, sess, "/v2/events", url.Values{
		"cursor": {cursor},
		"limit":  {strconv.Itoa(limit)},
	})
	if err != nil {
		return nil, err
	}

	page := &provider.EventPage{NextCursor: resp.NextCursor}
	for _, raw := range resp.Rows {
		var row eventRow
		if err := json.Unmarshal(raw, &row); err != nil {
			// An unreadable event row is skipped here; it resurfaces on the
			// next discovery pass once the provider fixes it.
			continue
		}
		page.Events = append(page.Events, provider.RemoteEvent{
			ProviderEventID: row.ID,
			Name:            row.Name,
			ScheduledStart:  parseTime(row.Start),
		})
	}
	return page, nil
}

func (a *Adapter) ListParticipants(ctx context.Context, s provider.Session, providerEventID string, since *time.Time, cursor string, limit int) (*provider.ParticipantPage, error) {
	sess, err := a.session(s)
	if err != nil {
		return nil, err
	}

	resp, err := a.get(ctx, sess, "/v2/events/"+url.PathEscape(providerEventID)+"/participants", sinceQuery(since, cursor, limit))
	if err != nil {
		return nil, err
	}

	page := &provider.ParticipantPage{NextCursor: resp.NextCursor}
	for _, raw := range resp.Rows {
		var row participantRow
		if err := json.Unmarshal(raw, &row); err != nil {
			page.RowErrors = append(page.RowErrors, &provider.DataError{Detail: "participant", Err: err})
			continue
		}
		if row.ID == "" {
			page.RowErrors = append(page.RowErrors, &provider.DataError{Detail: "participant missing registration_id", Err: fmt.Errorf("empty id")})
			continue
		}
		page.Participants = append(page.Participants, provider.RemoteParticipant{
			ProviderParticipantID: row.ID,
			Bib:                   row.Bib,
			FirstName:             row.FirstName,
			LastName:              row.LastName,
			Division:              row.Division,
			RegStatus:             row.Status,
			UpdatedAt:             parseTime(row.UpdatedAt),
		})
	}
	return page, nil
}

func (a *Adapter) ListResults(ctx context.Context, s provider.Session, providerEventID string, since *time.Time, cursor string, limit int) (*provider.ResultPage, error) {
	sess, err := a.session(s)
	if err != nil {
		return nil, err
	}

	resp, err := a.get(ctx, sess, "/v2/events/"+url.PathEscape(providerEventID)+"/results", sinceQuery(since, cursor, limit))
	if err != nil {
		return nil, err
	}

	page := &provider.ResultPage{NextCursor: resp.NextCursor}
	for _, raw := range resp.Rows {
		var row resultRow
		if err := json.Unmarshal(raw, &row); err != nil {
			page.RowErrors = append(page.RowErrors, &provider.DataError{Detail: "result", Err: err})
			continue
		}
		page.Results = append(page.Results, provider.RemoteResult{
			ProviderParticipantID: row.ID,
			Place:                 row.Place,
			ChipSeconds:           row.ChipSeconds,
			GunSeconds:            row.GunSeconds,
			FinishedAt:            parseTime(row.FinishedAt),
			UpdatedAt:             parseTime(row.UpdatedAt),
		})
	}
	return page, nil
}

func (a *Adapter) session(s provider.Session) (*session, error) {
	sess, ok := s.(*session)
	if !ok {
		return nil, fmt.Errorf("invalid session type %T", s)
	}
	return sess, nil
}

// get performs one API call and maps the HTTP status onto the provider error
// taxonomy.
func (a *Adapter) get(ctx context.Context, sess *session, path string, query url.Values) (*listResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sess.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := sess.client.Do(req)
	if err != nil {
		return nil, &provider.TransientError{Provider: Name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &provider.TransientError{Provider: Name, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &provider.AuthError{Provider: Name, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &provider.RateLimitError{Provider: Name, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &provider.TransientError{Provider: Name, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, body)
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &provider.TransientError{Provider: Name, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return &parsed, nil
}

func sinceQuery(since *time.Time, cursor string, limit int) url.Values {
	q := url.Values{
		"cursor": {cursor},
		"limit":  {strconv.Itoa(limit)},
	}
	if since != nil {
		q.Set("updated_after", since.UTC().Format(time.RFC3339))
	}
	return q
}

func parseTime(raw *string) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil
	}
	return &t
}
