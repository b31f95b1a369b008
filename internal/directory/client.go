// Package directory streams user accounts from the identity provider.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/AccessMirror/AccessMirror/internal/config"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	tokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

	// selectFields is the fixed field set requested per user.
	selectFields = "id,displayName,department,mail,userPrincipalName,jobTitle,accountEnabled,lastPasswordChangeDateTime"

	retryBaseDelay = time.Second
	retryMaxDelay  = 30 * time.Second
)

// Client lists directory users via the provider's paginated users endpoint.
// The credential is acquired with the client-credentials grant and cached by
// the underlying token source until shortly before expiry; concurrent callers
// share a single acquisition.
type Client struct {
	httpClient *http.Client
	baseURL    string
	pageSize   int
	maxRetries int
	reqTimeout time.Duration
}

// graphUser is the vendor wire shape of one user record.
type graphUser struct {
	ID                         string `json:"id"`
	DisplayName                string `json:"displayName"`
	Department                 string `json:"department"`
	Mail                       string `json:"mail"`
	UserPrincipalName          string `json:"userPrincipalName"`
	JobTitle                   string `json:"jobTitle"`
	AccountEnabled             bool   `json:"accountEnabled"`
	LastPasswordChangeDateTime string `json:"lastPasswordChangeDateTime"`
}

// usersPage is one page of the users listing.
type usersPage struct {
	Value    []graphUser `json:"value"`
	NextLink string      `json:"@odata.nextLink"`
}

// NewClient builds a live directory client from configuration.
func NewClient(ctx context.Context, dir config.Directory, syncCfg config.Sync) (*Client, error) {
	if !dir.Configured() {
		return nil, ErrNotConfigured
	}

	cc := clientcredentials.Config{
		ClientID:     dir.ClientID,
		ClientSecret: dir.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLFormat, dir.TenantID),
		Scopes:       []string{dir.Scope},
	}

	baseURL := dir.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		httpClient: cc.Client(ctx),
		baseURL:    baseURL,
		pageSize:   syncCfg.PageSize,
		maxRetries: syncCfg.MaxRetries,
		reqTimeout: time.Duration(syncCfg.RequestTimeoutS) * time.Second,
	}, nil
}

// EachUser pages through the users listing and yields every normalized user.
// The sequence is finite and restartable; a second call re-issues the listing
// from the first page.
func (c *Client) EachUser(ctx context.Context, fn func(User) error) error {
	next := fmt.Sprintf("%s/users?$select=%s&$top=%d",
		c.baseURL, url.QueryEscape(selectFields), c.pageSize)

	pages := 0

	for next != "" {
		page, err := c.fetchPage(ctx, next)
		if err != nil {
			return err
		}

		pages++

		for _, raw := range page.Value {
			if err := fn(normalize(raw)); err != nil {
				return err
			}
		}

		next = page.NextLink
	}

	log.Debug().Int("pages", pages).Msg("directory listing exhausted")

	return nil
}

// fetchPage issues one listing request, retrying 429 and 5xx responses with
// exponential backoff. Non-retryable failures surface as AuthError or
// RequestError with status and body.
func (c *Client) fetchPage(ctx context.Context, pageURL string) (*usersPage, error) {
	var lastErr error

	delay := retryBaseDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("retrying directory page fetch")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			delay *= 2
			if delay > retryMaxDelay {
				delay = retryMaxDelay
			}
		}

		page, retryable, err := c.fetchOnce(ctx, pageURL)
		if err == nil {
			return page, nil
		}

		if !retryable {
			return nil, err
		}

		lastErr = err
	}

	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, pageURL string) (*usersPage, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.reqTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// token endpoint failures come back as oauth2.RetrieveError
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) {
			return nil, false, &AuthError{
				Status: rErr.Response.StatusCode,
				Body:   string(rErr.Body),
				Err:    err,
			}
		}

		// transport errors are worth a retry
		return nil, true, fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("directory response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var page usersPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, false, fmt.Errorf("directory response decode: %w", err)
		}

		return &page, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, &RequestError{Status: resp.StatusCode, Body: string(body)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, &AuthError{Status: resp.StatusCode, Body: string(body)}
	default:
		return nil, false, &RequestError{Status: resp.StatusCode, Body: string(body)}
	}
}

// normalize maps the vendor record to the local user shape. Login defaults to
// the user principal name; the display name falls back to mail, then id.
func normalize(raw graphUser) User {
	email := raw.Mail
	login := raw.UserPrincipalName

	name := raw.DisplayName
	if name == "" {
		name = email
	}

	if name == "" {
		name = raw.ID
	}

	u := User{
		StableID:    raw.ID,
		DisplayName: name,
		Login:       login,
		Email:       email,
		Department:  raw.Department,
		JobTitle:    raw.JobTitle,
		Enabled:     raw.AccountEnabled,
	}

	if raw.LastPasswordChangeDateTime != "" {
		if ts, err := time.Parse(time.RFC3339, raw.LastPasswordChangeDateTime); err == nil {
			u.LastCredentialChange = ts
		}
	}

	return u
}
