package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/contactdir/contactdir-server/internal/config"
	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/httpclient"
)

// APISource pulls contacts from a paginated JSON HTTP API.
//
// A page is requested as GET <endpoint><pagePath>?<pageSizeParam>=N&<cursorParam>=C
// and the records and next cursor are read from the response with gjson paths.
type APISource struct {
	httpClient httpclient.Client
	pageURL    *url.URL
	cfg        config.APIConfig
}

var _ Source = (*APISource)(nil)

// NewAPISource creates an API source from its configuration.
// Credentials are read once here; OAuth2 tokens are refreshed on demand.
func NewAPISource(ctx context.Context, cfg *config.APIConfig) (*APISource, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("api endpoint cannot be empty")
	}

	ts, err := newTokenSource(ctx, cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to configure api credentials: %w", err)
	}

	client := httpclient.NewDefaultClient(cfg.GetTimeout(),
		httpclient.WithTransport(authTransport(ts, http.DefaultTransport)))
	return newAPISourceWithClient(cfg, client)
}

func newAPISourceWithClient(cfg *config.APIConfig, client httpclient.Client) (*APISource, error) {
	pageURL, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/") + cfg.PagePath)
	if err != nil {
		return nil, fmt.Errorf("invalid api endpoint: %w", err)
	}

	return &APISource{
		httpClient: client,
		pageURL:    pageURL,
		cfg:        *cfg,
	}, nil
}

// FetchPage requests one page from the API
func (s *APISource) FetchPage(ctx context.Context, cursor string, pageSize int) (*Page, error) {
	pageURL := s.buildPageURL(cursor, pageSize)

	body, err := s.httpClient.Get(ctx, pageURL)
	if err != nil {
		return nil, classifyFetchError(err)
	}

	return s.parsePage(body)
}

func (s *APISource) buildPageURL(cursor string, pageSize int) string {
	u := *s.pageURL
	q := u.Query()
	q.Set(s.cfg.PageSizeParam, strconv.Itoa(pageSize))
	if cursor != "" {
		q.Set(s.cfg.CursorParam, cursor)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *APISource) parsePage(body []byte) (*Page, error) {
	if !gjson.ValidBytes(body) {
		return nil, &Error{Kind: KindUnavailable, Err: fmt.Errorf("response is not valid JSON")}
	}

	records := gjson.GetBytes(body, s.cfg.RecordsPath)
	if records.Exists() && !records.IsArray() {
		return nil, &Error{Kind: KindUnavailable, Err: fmt.Errorf("%s is not an array", s.cfg.RecordsPath)}
	}

	page := &Page{}
	var decodeErr error
	records.ForEach(func(_, item gjson.Result) bool {
		var r contacts.RemoteRecord
		if err := json.Unmarshal([]byte(item.Raw), &r); err != nil {
			decodeErr = fmt.Errorf("invalid contact record: %w", err)
			return false
		}
		page.Records = append(page.Records, r)
		return true
	})
	if decodeErr != nil {
		return nil, &Error{Kind: KindUnavailable, Err: decodeErr}
	}

	// A null or missing cursor ends the listing
	if next := gjson.GetBytes(body, s.cfg.CursorPath); next.Exists() && next.Type != gjson.Null {
		page.NextCursor = next.String()
	}

	slog.Debug("Fetched contact page",
		"records", len(page.Records),
		"has_next", page.NextCursor != "")
	return page, nil
}

// classifyFetchError maps transport failures to source error kinds
func classifyFetchError(err error) error {
	// Cancellation is not a remote failure
	if errors.Is(err, context.Canceled) {
		return err
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &Error{Kind: KindAuthExpired, Err: err}
	}

	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		srcErr := &Error{StatusCode: httpErr.StatusCode, Err: err}
		switch {
		case httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden:
			srcErr.Kind = KindAuthExpired
		case httpErr.StatusCode == http.StatusTooManyRequests:
			srcErr.Kind = KindRateLimited
			srcErr.RetryAfter = httpErr.RetryAfter
		default:
			srcErr.Kind = KindUnavailable
		}
		return srcErr
	}

	return &Error{Kind: KindUnavailable, Err: err}
}
